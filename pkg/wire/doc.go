// Package wire implements the newline-delimited, row-id-prefixed wire
// format the browser runtime consumes.
//
// A stream is a sequence of rows "<id>:<tag?><body>\n". Module imports (I
// rows) precede any element row that names them; outlined values (maps,
// sets, promises, binary payloads, streams) get their own rows and are
// referenced by $-prefixed tokens from their original position. The root
// element row is emitted last.
//
// The Serializer turns a Tree into rows; Parse reads rows back and
// recovers suspense boundaries and pending-promise references for replay
// streaming. Serialize(Parse(x)) reproduces x byte-for-byte, except that
// blank lines, which Parse skips, are dropped.
package wire
