// Command schema-generator writes the editor schema for wayshell config
// files: the config schema with the [logging] extension filled in.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/grovetools/wayshell/config"
	"github.com/grovetools/wayshell/logging"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/sjson"
)

func main() {
	output := flag.String("o", "schema/wayshell.schema.json", "Output file")
	flag.Parse()

	base, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("Error generating schema: %v", err)
	}

	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}
	logSchema := r.Reflect(&logging.Config{})
	logSchema.Version = ""
	logSchema.Description = "Logging extension"
	logSchema.Required = nil
	logData, err := json.Marshal(logSchema)
	if err != nil {
		log.Fatalf("Error marshaling logging schema: %v", err)
	}

	composed, err := sjson.SetRawBytes(base, "properties.logging", logData)
	if err != nil {
		log.Fatalf("Error composing schema: %v", err)
	}

	var pretty json.RawMessage = composed
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		log.Fatalf("Error formatting schema: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
		log.Fatalf("Error creating schema directory: %v", err)
	}
	if err := os.WriteFile(*output, append(data, '\n'), 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Successfully generated schema at %s", *output)
}
