// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardstone Contributors

package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the schema $id referenced from wardstone.yaml files.
const SchemaID = "https://wardstone.dev/schemas/config.schema.json"

var (
	schemaOnce sync.Once
	schemaVal  *jschema.Schema
	schemaErr  error
)

// GenerateSchema generates a JSON Schema for the configuration file from the
// Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Wardstone Configuration"
	schema.Description = "Schema for wardstone.yaml configuration files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema validates raw YAML config data against the generated JSON
// Schema. This catches structural mistakes (wrong types, unknown enum
// values) before the file is decoded into a Config.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code("SCHEMA_INVALID").Errorf("config data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return oops.Code("SCHEMA_INVALID").Wrap(err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(jsonTypes(yamlData)); err != nil {
		return oops.Code("SCHEMA_VALIDATION_FAILED").Wrap(err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaVal, schemaErr = compileSchema()
	})
	return schemaVal, schemaErr
}

func compileSchema() (*jschema.Schema, error) {
	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
	}
	return sch, nil
}

// jsonTypes converts YAML-decoded values into the types the schema validator
// expects. yaml.v3 already produces map[string]any, so only nesting and the
// odd scalar need a pass.
func jsonTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = jsonTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = jsonTypes(item)
		}
		return result
	default:
		return val
	}
}
