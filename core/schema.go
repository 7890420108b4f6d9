package core

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// profileSchema validates the wire form of a profile definition before any
// decoding happens. Operator/field typing is the compiler's job; the schema
// only rejects structurally broken documents early with readable errors.
const profileSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "filter_tree"],
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string", "minLength": 1, "maxLength": 255},
		"owner_id": {"type": "string"},
		"enabled": {"type": "boolean"},
		"notification": {"type": "object"},
		"filter_tree": {"$ref": "#/definitions/node"}
	},
	"definitions": {
		"node": {
			"type": "object",
			"oneOf": [
				{
					"required": ["condition", "rules"],
					"properties": {
						"condition": {"enum": ["and", "or"]},
						"rules": {
							"type": "array",
							"minItems": 1,
							"items": {"$ref": "#/definitions/node"}
						}
					},
					"additionalProperties": false
				},
				{
					"required": ["field", "operator", "value"],
					"properties": {
						"field": {"type": "string"},
						"operator": {"type": "string"},
						"value": {}
					},
					"additionalProperties": false
				}
			]
		}
	}
}`

var compiledProfileSchema = gojsonschema.NewStringLoader(profileSchema)

// ValidateProfileJSON checks a raw profile definition against the profile
// schema. Returns a single error aggregating every schema violation.
func ValidateProfileJSON(raw []byte) error {
	result, err := gojsonschema.Validate(compiledProfileSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to run profile schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("profile definition is invalid: %s", strings.Join(msgs, "; "))
}
