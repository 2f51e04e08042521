//go:build ignore
// +build ignore

// Generates docs/environment.md from the config package's reflected env-var
// specs. Run from this directory: go run main.go
package main

import (
	"fmt"
	"os"
	"strings"

	cfg "github.com/ArkLabsHQ/lampo/internal/config"
)

const outFile = "../../docs/environment.md"

func main() {
	var b strings.Builder
	b.WriteString("# Environment Variables\n\n")
	b.WriteString("Generated from `config.EnvSpecs()`. **Do not edit manually.**\n\n")
	b.WriteString("| Variable | Default | Type | Description |\n")
	b.WriteString("|----------|--------|------|-------------|\n")

	for _, s := range cfg.EnvSpecs() {
		def := s.Default
		if def == "" {
			def = "—"
		}
		desc := s.Description
		if s.Notes != "" {
			desc += "<br/><em>" + s.Notes + "</em>"
		}
		fmt.Fprintf(&b, "| `%s` | `%s` | `%s` | %s |\n", s.FullName, def, s.Type, desc)
	}

	if err := os.MkdirAll("../../docs", 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(outFile, []byte(b.String()), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
