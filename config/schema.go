// Copyright (c) 2026 The SmartEVSE project
// Licensed under the MIT License

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/SmartEVSE/SmartEVSE-app/pkg/util"
)

//go:embed schema.json
var schemaJSON []byte

// ValidateWithSchema validates a configuration file against the JSON
// schema. This catches structural mistakes (unknown keys, wrong types)
// that the Go-side validation would silently ignore.
//
// Example usage:
//
//	err := config.ValidateWithSchema("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func ValidateWithSchema(configPath string) error {
	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)

	configData, err := util.ReadFileSafely(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	// YAML has to become JSON before the schema can see it.
	var configObj interface{}
	if err := yaml.Unmarshal(configData, &configObj); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(configJSON))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		return formatValidationErrors(result.Errors())
	}

	return nil
}

// formatValidationErrors formats JSON schema validation errors into a
// readable message.
func formatValidationErrors(errors []gojsonschema.ResultError) error {
	if len(errors) == 0 {
		return nil
	}

	msg := "configuration validation errors:\n"
	for i, err := range errors {
		msg += fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field(), err.Description())
	}

	return fmt.Errorf("%s", msg)
}

// GetSchemaJSON returns the embedded JSON schema as a string.
func GetSchemaJSON() string {
	return string(schemaJSON)
}
