// Package schema loads the JSON-Schema documents stored in a space's schema
// collection, validates JSON payloads against them, and derives search index
// field definitions from their declared properties.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dmartio/datamart/pkg/api"
)

// FieldType is the index-level type a schema property maps to.
type FieldType string

const (
	// FieldText indexes string (and boolean) properties for token search.
	FieldText FieldType = "text"

	// FieldNumeric indexes integer/number properties for sorting and
	// range filtering.
	FieldNumeric FieldType = "numeric"
)

// Field is one derived index field.
type Field struct {
	// Path is the dotted key chain into the payload document
	// (e.g. "address.city").
	Path string `json:"path"`

	// Name is the flattened index field name, dots replaced by
	// underscores.
	Name string `json:"name"`

	// Type is the index field type.
	Type FieldType `json:"type"`
}

// typeMapping maps JSON-Schema primitive types to index field types.
// Arrays are indexed for existence only and contribute no field; nested
// objects recurse into their properties.
var typeMapping = map[string]FieldType{
	"string":  FieldText,
	"boolean": FieldText,
	"integer": FieldNumeric,
	"number":  FieldNumeric,
}

// LoadDocument reads a schema document <shortname>.json from the space's
// schema directory.
func LoadDocument(schemaDir, shortname string) (map[string]any, error) {
	path := filepath.Join(schemaDir, shortname+".json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, api.NotFound("schema not found", path)
	}
	if err != nil {
		return nil, api.Internal("reading schema document", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, api.Validation(fmt.Sprintf("schema %s is not valid JSON: %v", shortname, err))
	}
	return doc, nil
}

// Validate checks a payload value against a schema document. A failing
// payload surfaces as a validation error, never a storage error.
func Validate(doc map[string]any, value any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return api.Internal("serializing schema", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return api.Validation("invalid schema document: " + err.Error())
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return api.Validation("invalid schema document: " + err.Error())
	}

	if err := compiled.Validate(value); err != nil {
		return api.Validation("payload failed schema validation: " + err.Error())
	}
	return nil
}

// IndexFields derives the index field definitions from a schema document's
// declared properties. String/number/integer map to text/numeric fields;
// nested objects recurse with a dotted key chain; other types (arrays,
// nulls) are skipped.
func IndexFields(doc map[string]any) []Field {
	properties, ok := doc["properties"].(map[string]any)
	if !ok {
		return nil
	}

	var fields []Field
	for key, prop := range properties {
		propMap, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		fields = appendFields(fields, key, propMap)
	}
	return fields
}

// appendFields walks one property definition, recursing into nested object
// properties.
func appendFields(fields []Field, keyChain string, prop map[string]any) []Field {
	if typeName, ok := prop["type"].(string); ok && typeName != "object" {
		if ft, mapped := typeMapping[typeName]; mapped {
			fields = append(fields, Field{
				Path: keyChain,
				Name: strings.ReplaceAll(keyChain, ".", "_"),
				Type: ft,
			})
		}
		return fields
	}

	nested, ok := prop["properties"].(map[string]any)
	if !ok {
		return fields
	}
	for key, child := range nested {
		childMap, ok := child.(map[string]any)
		if !ok {
			continue
		}
		fields = appendFields(fields, keyChain+"."+key, childMap)
	}
	return fields
}

// ListDocuments returns the shortnames of every schema document in the
// directory. A missing directory lists empty.
func ListDocuments(schemaDir string) ([]string, error) {
	entries, err := os.ReadDir(schemaDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, api.Internal("listing schema directory", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return names, nil
}
