// Package verbatim extracts attributed quotations from retrieval results.
//
// Each surviving chunk yields exactly one quote: its trimmed text. Hits are
// filtered by speaker role, quote length in characters and an optional
// demographic filter such as "F, 25-34", then merged on normalized text and
// ordered by score.
package verbatim
