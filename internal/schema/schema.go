package schema

// =============================================================================
// SCHEMA CONTRACTS: FAIL LOUD AT THE FORMAT BOUNDARY
// =============================================================================
//
// Results, requests, daemon messages and configuration files all cross a
// process boundary as JSON. The CUE definitions embedded here are the
// contract for those payloads.
//
// WHEN VALIDATION FAILS:
// 1. DON'T loosen the schema to make the error go away
// 2. DO check which side changed: the Go struct tags or the .cue definition
// 3. DO keep both in the same commit
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed *.cue
var schemaFS embed.FS

// Definition names exported by the embedded schema.
const (
	Result         = "#Result"
	Trace          = "#Trace"
	Request        = "#Request"
	DecodeRequest  = "#DecodeRequest"
	DaemonCommand  = "#DaemonCommand"
	DaemonResponse = "#DaemonResponse"
	Config         = "#Config"
	Tables         = "#Tables"
	Delta          = "#Delta"
)

// Validator checks JSON-shaped data against the embedded CUE definitions.
// A Validator is safe for sequential use only; create one per goroutine.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// New creates a Validator from the embedded schema files.
func New() (*Validator, error) {
	ctx := cuecontext.New()

	src, err := loadSchemaSource()
	if err != nil {
		return nil, fmt.Errorf("loading embedded schema: %w", err)
	}

	schema := ctx.CompileString(src)
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schema.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
	}, nil
}

func loadSchemaSource() (string, error) {
	names, err := fs.Glob(schemaFS, "*.cue")
	if err != nil {
		return "", err
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Validate marshals data to JSON and checks it against definition def.
func (v *Validator) Validate(def string, data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}
	return v.ValidateJSON(def, jsonBytes)
}

// ValidateJSON checks JSON bytes against definition def.
func (v *Validator) ValidateJSON(def string, jsonBytes []byte) error {
	unified, err := v.unify(def, jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", strings.TrimPrefix(def, "#"), err)
	}
	return nil
}

// ValidationErrors returns one message per validation error, or nil.
func (v *Validator) ValidationErrors(def string, data interface{}) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}

	unified, err := v.unify(def, jsonBytes)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

func (v *Validator) unify(def string, jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	// definitions with comprehensions report non-concrete operands until
	// data is unified, so only existence is checked here
	definition := v.schema.LookupPath(cue.ParsePath(def))
	if !definition.Exists() {
		return cue.Value{}, fmt.Errorf("looking up %s definition: not found", def)
	}

	return definition.Unify(dataValue), nil
}

// ValidateResult checks a simulation result.
func (v *Validator) ValidateResult(result interface{}) error {
	return v.Validate(Result, result)
}

// ValidateConfig checks a configuration value.
func (v *Validator) ValidateConfig(cfg interface{}) error {
	return v.Validate(Config, cfg)
}

// ValidateTables checks fact tables.
func (v *Validator) ValidateTables(tables interface{}) error {
	return v.Validate(Tables, tables)
}
