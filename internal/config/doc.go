// Package config loads and validates rari.json project configuration.
//
// A missing file is not an error: Load returns a fully defaulted Config so
// the engine can run zero-config in development.
package config
