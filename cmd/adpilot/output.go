package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// writeJSON emits one canonical JSON document: sorted keys, two-space
// indentation, no HTML escaping. Every command prints at most one of these
// to stdout.
func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode result document")
	}
}

// emitResult writes the command's single result document to stdout.
func emitResult(v interface{}) {
	writeJSON(os.Stdout, v)
}
