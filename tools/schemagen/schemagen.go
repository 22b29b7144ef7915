// Package main emits the JSON Schema documents the server validates inbound
// payloads against, so API clients can validate before submitting.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/carbonplane/internal/registry"
)

func main() {
	outDir := flag.String("out", "docs/schemas", "Output directory for schema files")
	stdout := flag.Bool("stdout", false, "Print schemas to stdout instead of writing files")

	flag.Parse()

	schemas := map[string][]byte{
		"flowchart.schema.json": registry.FlowchartSchemaJSON(),
	}

	for name, raw := range schemas {
		pretty, err := indentJSON(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "format %s: %v\n", name, err)
			os.Exit(1)
		}

		if *stdout {
			fmt.Printf("// %s\n%s\n", name, pretty)

			continue
		}

		if err = writeSchema(*outDir, name, pretty); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
			os.Exit(1)
		}

		fmt.Printf("wrote %s\n", filepath.Join(*outDir, name))
	}
}

func indentJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func writeSchema(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
