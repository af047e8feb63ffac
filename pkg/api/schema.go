package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaCreateInstance = "create_instance.json"
	schemaCreateContact  = "create_contact.json"
	schemaHostWebhook    = "session_host_webhook.json"
)

var schemaSources = map[string]string{
	schemaCreateInstance: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["owner_id"],
		"properties": {
			"owner_id": {"type": "string", "minLength": 1, "maxLength": 128},
			"display_name": {"type": "string", "maxLength": 100}
		},
		"additionalProperties": false
	}`,
	schemaCreateContact: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["owner_id", "phone"],
		"properties": {
			"owner_id": {"type": "string", "minLength": 1, "maxLength": 128},
			"phone": {"type": "string", "minLength": 1, "maxLength": 64},
			"name": {"type": "string", "maxLength": 200}
		},
		"additionalProperties": false
	}`,
	schemaHostWebhook: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["session_id", "status"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"status": {"type": "string", "minLength": 1},
			"phone": {"type": "string"},
			"profile_name": {"type": "string"}
		}
	}`,
}

type schemas struct {
	compiled map[string]*jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	out := &schemas{compiled: make(map[string]*jsonschema.Schema, len(schemaSources))}
	for name := range schemaSources {
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out.compiled[name] = sch
	}
	return out, nil
}

// validate checks body against the named schema. Malformed JSON is
// reported as a validation failure.
func (s *schemas) validate(name string, body []byte) error {
	sch, ok := s.compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("request does not match schema: %w", err)
	}
	return nil
}
