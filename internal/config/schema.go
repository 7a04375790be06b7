package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
	schemareflector "github.com/swaggest/jsonschema-go"

	ext_config "github.com/pypack/pypack/config"
)

var rootSchema *jsonschema.Schema

func init() {
	js, err := jsonschema.UnmarshalJSON(bytes.NewReader(ext_config.Schema()))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	if err := compiler.AddResource("schema.json", js); err != nil {
		panic(err)
	}

	rootSchema, err = compiler.Compile("schema.json")
	if err != nil {
		panic(err)
	}
}

// ReflectSchema generates the JSON schema for the config file format. The
// result is committed under config/schema.json via go:generate.
func ReflectSchema() ([]byte, error) {
	reflector := schemareflector.Reflector{}

	s, err := reflector.Reflect(Root{})
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(s, "", "  ")
}

// Validate checks a raw YAML config document against the embedded schema
// before it is decoded into typed structs.
func Validate(bs []byte) error {
	var doc any
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if doc == nil {
		return nil
	}
	if err := rootSchema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}
