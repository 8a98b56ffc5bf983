// Package loader discovers transcript files on disk and reads them into
// documents ready for chunking.
//
// Plain text, source code and JSON files are read as UTF-8, with invalid
// byte sequences replaced by U+FFFD. Markdown is flattened to its text
// content so that speaker headers written with emphasis, for example
// "**Alice (F, 25-34):**", still parse. PDF files are reduced to their
// plain text layer.
//
// Document IDs are UUIDv5 values over the file's absolute path, so reloading
// the same file always yields the same ID and re-indexing replaces rather than
// duplicates its chunks.
package loader
