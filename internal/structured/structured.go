// Package structured decodes JSON produced by a language model. Model output
// is not guaranteed to be well formed, so Parse applies one bounded repair
// before giving up.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

var ErrMalformed = errors.New("malformed structured output")

// MalformedError carries the raw model output that could not be decoded.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformed, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// Parse decodes raw into v. When the first attempt fails, doubled quotes are
// collapsed and decoding is retried once. Any remaining failure is returned as
// *MalformedError; Parse never panics.
func Parse(raw string, v any) error {
	first := json.Unmarshal([]byte(raw), v)
	if first == nil {
		return nil
	}
	repaired := Repair(raw)
	if repaired == raw {
		return &MalformedError{Raw: raw, Err: first}
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return &MalformedError{Raw: raw, Err: fmt.Errorf("after repair: %w", err)}
	}
	return nil
}

// Repair collapses doubled quote characters, the one fix Parse attempts.
func Repair(raw string) string {
	return strings.ReplaceAll(raw, `""`, `"`)
}

// Schema reflects the JSON schema of T, inlined and without a $schema
// declaration so draft-07 validators accept it.
func Schema[T any]() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	var v T
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// SchemaError lists every violation found by Validate.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "schema violations: " + strings.Join(e.Violations, "; ")
}

// Validate checks a JSON document against a schema.
func Validate(schema []byte, data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, re.String())
	}
	return &SchemaError{Violations: violations}
}
