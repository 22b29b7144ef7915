package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/example/carbonplane/internal/domain"
)

// flowchartSchema is the JSON Schema applied to raw flowchart documents
// before domain validation, catching shape errors with field-level messages.
const flowchartSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["clientId", "nodes"],
	"properties": {
		"clientId": {"type": "string", "minLength": 1},
		"kind": {"enum": ["organisation", "process"]},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "label"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"label": {"type": "string"},
					"department": {"type": "string"},
					"location": {"type": "string"},
					"scopes": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["scopeIdentifier", "scopeType"],
							"properties": {
								"scopeIdentifier": {"type": "string", "minLength": 1},
								"scopeType": {"enum": ["Scope 1", "Scope 2", "Scope 3"]},
								"categoryName": {"type": "string"},
								"activity": {"type": "string"},
								"calculationModel": {"type": "integer", "minimum": 1, "maximum": 3},
								"inputType": {"type": "string"},
								"allocationPct": {"type": "number", "minimum": 0, "maximum": 100}
							}
						}
					}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from", "to"],
				"properties": {
					"from": {"type": "string"},
					"to": {"type": "string"}
				}
			}
		}
	}
}`

// FlowchartSchemaJSON returns the flowchart JSON Schema document, for
// clients that validate payloads before submission.
func FlowchartSchemaJSON() []byte {
	return []byte(flowchartSchema)
}

// ValidateDocument checks a raw flowchart JSON document against the schema.
// Violations come back as one validation-kind error listing every failure.
func ValidateDocument(raw []byte) error {
	schema := gojsonschema.NewStringLoader(flowchartSchema)
	doc := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schema, doc)
	if err != nil {
		return domain.E(domain.KindValidation, "registry.schema",
			fmt.Errorf("validate flowchart document: %w", err))
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}

	return domain.Errorf(domain.KindValidation, "registry.schema",
		"flowchart document invalid: %s", strings.Join(msgs, "; "))
}

// UpsertFlowchartJSON schema-checks a raw chart document, decodes it and
// saves it through UpsertFlowchart. Transport boundaries hand documents in
// here, so shape errors surface with field paths before domain validation.
func (r *Registry) UpsertFlowchartJSON(ctx context.Context, principal domain.Principal, raw []byte) (*domain.Flowchart, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}

	var chart domain.Flowchart
	if err := json.Unmarshal(raw, &chart); err != nil {
		return nil, domain.E(domain.KindValidation, "registry.upsert",
			fmt.Errorf("decode flowchart document: %w", err))
	}

	return r.UpsertFlowchart(ctx, principal, &chart)
}
