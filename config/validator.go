package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "wayshell.schema.json"

// compiledSchema compiles the reflected schema once per process.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(schemaURL)
})

// validateRaw checks a decoded config document against the schema. raw may
// hold TOML or YAML decoder types; it is normalized through JSON first.
func validateRaw(raw map[string]interface{}) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}

	err = schema.Validate(doc)
	var verr *jsonschema.ValidationError
	if stderrors.As(err, &verr) {
		return fmt.Errorf("schema validation failed:\n%s", strings.Join(violations(verr), "\n"))
	}
	return err
}

// violations flattens the error tree to one "- location: message" line per
// leaf that points into the document.
func violations(verr *jsonschema.ValidationError) []string {
	var lines []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return lines
}
