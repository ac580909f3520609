// Package htmlstream converts wire-format stream chunks into a progressive
// HTML byte stream: a document shell, fallback skeletons inside template
// blocks, and inline swap scripts as boundary fills arrive.
package htmlstream
