// Package renderer orchestrates renders: it loads components into the
// runtime in dependency order, composes layouts around the page, runs the
// setup and composition scripts, and turns the extracted result into wire
// payloads, HTML documents, or progressive streams.
package renderer
