// Package chunker splits transcript text into speaker-attributed chunks.
//
// A transcript is cut into turns at speaker header lines. Four header forms are
// recognized at the start of a line:
//
//	Alice (F, 25-34): ...
//	Alice, F, 25-34, NYC [00:12:45]: ...
//	Alice [00:12:45]: ...
//	Alice: ...
//
// Turns are split at blank lines, and paragraphs longer than the maximum chunk
// size are packed sentence by sentence. Chunk text is always an exact slice of
// the document text.
package chunker
