// Package schema checks raw inbound messages against a JSON Schema before they
// are decoded.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
)

//go:embed incoming_message.schema.json
var defaultSchema []byte

const schemaURL = "https://restbridge.local/schemas/incoming_message.schema.json"

// Violation is a single schema failure. Path is a JSON pointer into the
// message; the document root is "/".
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// Validator holds a compiled schema. It is immutable and safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// Default compiles the schema embedded in the binary.
func Default() (*Validator, error) {
	return New(defaultSchema)
}

// Load compiles the schema at path, or the embedded schema when path is empty.
func Load(path string) (*Validator, error) {
	if path == "" {
		return Default()
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return New(doc)
}

// New compiles a draft-07 schema document.
func New(doc []byte) (*Validator, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, errspkg.ErrSchemaRequired
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(schemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate returns nil when raw conforms to the schema, otherwise the leaf
// violations ordered by path and then message. Empty or unparseable input is
// reported as a single violation at the root.
func (v *Validator) Validate(raw []byte) []Violation {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []Violation{{Path: "/", Message: "message body is empty"}}
	}

	// UseNumber keeps large integers exact for the numeric keywords.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []Violation{{Path: "/", Message: "message is not valid JSON: " + err.Error()}}
	}
	if dec.More() {
		return []Violation{{Path: "/", Message: "message is not valid JSON: trailing data after document"}}
	}

	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Violation{{Path: "/", Message: err.Error()}}
	}

	var out []Violation
	collect(verr, &out)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func collect(e *jsonschema.ValidationError, out *[]Violation) {
	if len(e.Causes) == 0 {
		path := e.InstanceLocation
		if path == "" {
			path = "/"
		}
		*out = append(*out, Violation{Path: path, Message: e.Message})
		return
	}
	for _, cause := range e.Causes {
		collect(cause, out)
	}
}

// Error folds violations into a single SchemaViolation error, or nil.
func Error(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return errspkg.New(errspkg.KindSchemaViolation, "schema validation failed: "+strings.Join(parts, ", "), nil)
}
