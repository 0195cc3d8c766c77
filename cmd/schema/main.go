// Command schema regenerates the JSON schema for the garnscope YAML
// configuration. The output is embedded by pkg/config and used there as a
// supplementary check on loaded files, so it must be refreshed whenever the
// Config struct changes.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/mkrogh/garnscope/pkg/config"
)

func main() {
	out := "schema.json"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}

	schema := jsonschema.Reflect(&config.Config{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal config schema: %v", err)
	}

	if err := os.WriteFile(out, data, 0o600); err != nil { //nolint:gosec // schema file is not sensitive
		log.Fatalf("failed to write %s: %v", out, err)
	}

	fmt.Printf("config schema written to %s\n", out)
}
