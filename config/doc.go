// Package config loads application settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then a
// .env file, then VERBATIM_* environment variables. Command-line flags are
// applied on top by the caller. For example VERBATIM_RETRIEVAL_TOP_K sets
// retrieval.top_k and VERBATIM_QUOTE_FORMAT sets verbatim.format.
package config
