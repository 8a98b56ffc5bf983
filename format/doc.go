// Package format renders verbatims for people and spreadsheets.
//
// Four formats are supported: research (the default), quotes_only, detailed
// and csv. Rendering is pure and never reorders or filters its input. Export
// writes the CSV form to a file whatever display format was chosen.
package format
