package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's parameter schema once.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

var paramSchemas = &schemaCache{schemas: make(map[string]*jsonschema.Schema)}

// ValidateArgs checks args against the tool's declared parameter schema.
func ValidateArgs(t Tool, args map[string]interface{}) error {
	schema, err := paramSchemas.compile(t)
	if err != nil {
		return fmt.Errorf("tool %s has invalid parameter schema: %w", t.Name(), err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	// Round-trip through JSON so numbers normalize the way the validator
	// expects (float64 for every numeric value).
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", t.Name(), err)
	}
	return nil
}

func (c *schemaCache) compile(t Tool) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.schemas[t.Name()]; ok {
		return s, nil
	}
	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + t.Name() + "/params.json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	c.schemas[t.Name()] = s
	return s, nil
}
