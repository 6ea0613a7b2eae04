// Command generate-schema writes the JSON schema of the gopherd config file,
// for editor completion and validation of config.yaml.
//
//	generate-schema [-o file]
//
// "-o -" writes to stdout.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/gopherd/pkg/config"
)

const schemaID = "https://github.com/marmos91/gopherd/config.schema.json"

func main() {
	out := flag.String("o", "config.schema.json", "output `file`, - for stdout")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	if out == "-" {
		return writeSchema(os.Stdout)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := writeSchema(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("JSON schema written to %s\n", out)
	return nil
}

// writeSchema reflects config.Config using the same mapstructure keys viper
// reads, so the schema matches what the loader accepts.
func writeSchema(w io.Writer) error {
	r := jsonschema.Reflector{
		FieldNameTag:   "mapstructure",
		DoNotReference: true,
	}

	schema := r.Reflect(&config.Config{})
	schema.ID = schemaID
	schema.Title = "gopherd configuration"
	schema.Description = "Settings for the gopherd supervisor and its Gopher worker"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}
