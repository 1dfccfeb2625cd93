package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed execute_request.schema.json
var executeRequestSchema []byte

const executeSchemaName = "execute_request.schema.json"

var compileExecuteSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(executeSchemaName, bytes.NewReader(executeRequestSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(executeSchemaName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// ValidateJobPayload checks a marshalled execute payload against the backend
// contract.
func ValidateJobPayload(data []byte) error {
	schema, err := compileExecuteSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("payload does not match execute contract: %w", err)
	}
	return nil
}
