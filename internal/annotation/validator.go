package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/shail0iri/smartdesk/internal/normalize"
)

// Report describes what Check did to a field map.
type Report struct {
	// Filled lists the required keys that were missing and defaulted.
	Filled []string
	// Rejected is set when a label fell outside the vocabulary.
	Rejected bool
	Reason   error
}

// Validator checks field maps against a compiled vocabulary schema.
type Validator struct {
	vocab  Vocabulary
	schema *jsonschema.Schema
}

var requiredDefaults = []struct {
	key   string
	value string
}{
	{FieldSentiment, DefaultSentiment},
	{FieldUrgency, DefaultUrgency},
	{FieldCategory, DefaultCategory},
	{FieldSummary, DefaultSummary},
}

// NewValidator compiles the JSON schema for v.
func NewValidator(v Vocabulary) (*Validator, error) {
	if len(v.Sentiments) == 0 || len(v.Urgencies) == 0 || len(v.Categories) == 0 {
		return nil, errors.New("vocabulary: every label set must be non-empty")
	}

	raw, err := json.Marshal(schemaFor(v))
	if err != nil {
		return nil, fmt.Errorf("encoding vocabulary schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("annotation.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("loading vocabulary schema: %w", err)
	}
	schema, err := compiler.Compile("annotation.json")
	if err != nil {
		return nil, fmt.Errorf("compiling vocabulary schema: %w", err)
	}

	return &Validator{vocab: v, schema: schema}, nil
}

// Vocabulary returns the label sets the validator enforces.
func (v *Validator) Vocabulary() Vocabulary {
	return v.vocab
}

// Validate always returns a well-formed Annotation: missing keys are
// defaulted, and any out-of-vocabulary label turns the whole result into the
// sentinel.
func (v *Validator) Validate(f normalize.Fields) Annotation {
	a, _ := v.Check(f)
	return a
}

// Check is Validate plus a report of the repairs made.
func (v *Validator) Check(f normalize.Fields) (Annotation, Report) {
	var rep Report

	doc := make(map[string]any, len(requiredDefaults))
	for _, d := range requiredDefaults {
		val, ok := f[d.key]
		if !ok {
			rep.Filled = append(rep.Filled, d.key)
			val = d.value
		}
		doc[d.key] = val
	}
	doc[FieldSummary] = stringify(doc[FieldSummary])

	if err := v.schema.Validate(doc); err != nil {
		rep.Rejected = true
		rep.Reason = err
		return Failed(), rep
	}

	return Annotation{
		Sentiment: doc[FieldSentiment].(string),
		Urgency:   doc[FieldUrgency].(string),
		Category:  doc[FieldCategory].(string),
		Summary:   doc[FieldSummary].(string),
	}, rep
}

func schemaFor(v Vocabulary) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{FieldSentiment, FieldUrgency, FieldCategory, FieldSummary},
		"properties": map[string]any{
			FieldSentiment: map[string]any{"type": "string", "enum": v.Sentiments},
			FieldUrgency:   map[string]any{"type": "string", "enum": v.Urgencies},
			FieldCategory:  map[string]any{"type": "string", "enum": v.Categories},
			FieldSummary:   map[string]any{"type": "string"},
		},
	}
}

func stringify(val any) string {
	switch s := val.(type) {
	case string:
		return s
	case nil:
		return ""
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}
