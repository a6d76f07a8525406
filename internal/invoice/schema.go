package invoice

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaJSON = `{
  "type": "object",
  "required": ["invoiceNumber", "invoiceDate", "vendorName", "currency", "subtotal", "tax", "total", "lineItems"],
  "properties": {
    "invoiceNumber": {"type": "string", "minLength": 1},
    "invoiceDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "vendorName": {"type": "string", "minLength": 1},
    "currency": {"type": "string", "minLength": 3, "maxLength": 3},
    "subtotal": {"type": "number", "minimum": 0},
    "tax": {"type": "number", "minimum": 0},
    "total": {"type": "number", "minimum": 0},
    "dueDate": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "lineItems": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "quantity", "unitPrice", "lineTotal"],
        "properties": {
          "description": {"type": "string", "minLength": 1},
          "quantity": {"type": "number", "minimum": 0},
          "unitPrice": {"type": "number", "minimum": 0},
          "lineTotal": {"type": "number", "minimum": 0}
        }
      }
    },
    "notes": {"type": "string"}
  }
}`

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", strings.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("invoice.json")
}

// Validate checks a coerced invoice against the result schema.
func Validate(inv *Invoice) error {
	bs, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	var v any
	if err := json.Unmarshal(bs, &v); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invoice does not match schema: %w", err)
	}
	return nil
}
