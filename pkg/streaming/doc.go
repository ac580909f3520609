// Package streaming emits progressive wire streams: an initial shell with
// one skeleton row per suspended subtree, then fill rows as background
// promise resolution completes inside the runtime.
//
// Ordering guarantees per stream: the shell row precedes every update, at
// most one terminal chunk (update or error) is forwarded per boundary, and
// row ids are strictly monotonic. The chunk channel is bounded so a slow
// consumer backpressures the coordinator; after a consumer drop the stream
// context is cancelled and late resolutions are discarded.
package streaming
