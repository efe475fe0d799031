package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	_ "github.com/santhosh-tekuri/jsonschema/v5/httploader"
)

var (
	cacheMu sync.RWMutex
	cache   = map[string]*jsonschema.Schema{}
)

// Compile compiles a JSON schema string, caching the result by its text.
func Compile(schemaJSON string) (*jsonschema.Schema, error) {
	cacheMu.RLock()
	sch, ok := cache[schemaJSON]
	cacheMu.RUnlock()
	if ok {
		return sch, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w. Schema: %s", err, schemaJSON)
	}

	cacheMu.Lock()
	cache[schemaJSON] = sch
	cacheMu.Unlock()
	return sch, nil
}

// ValidateJSONWithSchema validates a JSON data string against a JSON schema string.
func ValidateJSONWithSchema(schemaJSON string, dataJSON string) error {
	if schemaJSON == "" {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON data: %w. Data: %s", err, dataJSON)
	}
	return validate(schemaJSON, data)
}

// ValidateValue validates an in-memory value. The value is normalized through
// a JSON round trip so typed maps and structs validate like decoded JSON.
func ValidateValue(schemaJSON string, value interface{}) error {
	if schemaJSON == "" {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for validation: %w", err)
	}
	return ValidateJSONWithSchema(schemaJSON, string(raw))
}

func validate(schemaJSON string, data interface{}) error {
	sch, err := Compile(schemaJSON)
	if err != nil {
		return err
	}
	if err := sch.Validate(data); err != nil {
		validationErr, ok := err.(*jsonschema.ValidationError)
		if ok {
			return fmt.Errorf("JSON data failed validation against schema: %v", validationErr)
		}
		return fmt.Errorf("JSON data failed validation (unexpected error type): %w", err)
	}
	return nil
}
