// Package policy evaluates advisory rules over the fact tables of a program.
//
// The built-in rules are embedded; extra .rego modules in the same package
// (hdlsim.advisories) can be loaded from a directory to add rules.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/robert-at-pretension-io/hdlsim/internal/facts"
)

//go:embed advisories.rego
var builtinRules string

const (
	advisoriesQuery = "data.hdlsim.advisories.advisories"
	summaryQuery    = "data.hdlsim.advisories.summary"
)

// Engine evaluates OPA policies against program facts
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// Advisory is a non-fatal finding about a program.
type Advisory struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Advisories []Advisory
	Summary    Summary
}

// Summary provides aggregate counts
type Summary struct {
	Total    int `json:"total"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// New creates a policy engine from the built-in rules plus every .rego file
// in policyDir, if policyDir is not empty.
func New(ctx context.Context, policyDir string) (*Engine, error) {
	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
	}

	sources, err := loadSources(policyDir)
	if err != nil {
		return nil, err
	}
	modules := make([]func(*rego.Rego), 0, len(sources))
	for _, src := range sources {
		modules = append(modules, rego.Module(src.name, src.content))
	}

	for name, q := range map[string]string{"advisories": advisoriesQuery, "summary": summaryQuery} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}

	return engine, nil
}

type source struct {
	name    string
	content string
}

// loadSources returns the built-in module followed by the .rego files of
// policyDir in name order.
func loadSources(policyDir string) ([]source, error) {
	sources := []source{{name: "advisories.rego", content: builtinRules}}
	if policyDir == "" {
		return sources, nil
	}
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("finding policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", policyDir)
	}
	sort.Strings(files)
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		sources = append(sources, source{name: f, content: string(content)})
	}
	return sources, nil
}

// RulesHash fingerprints the rule set New would load, so cached advisories
// can be invalidated when a rule changes.
func RulesHash(policyDir string) (string, error) {
	sources, err := loadSources(policyDir)
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	for _, src := range sources {
		_, _ = h.WriteString(filepath.Base(src.name))
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(src.content)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Evaluate runs the policies against the fact tables. Advisories are sorted
// by line, then rule, then message.
func (e *Engine) Evaluate(ctx context.Context, tables facts.Tables) (*Result, error) {
	inputMap, err := structToMap(tables)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Advisories: []Advisory{}}

	rs, err := e.queries["advisories"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating advisories: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if items, ok := rs[0].Expressions[0].Value.([]interface{}); ok {
			for _, item := range items {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				result.Advisories = append(result.Advisories, Advisory{
					Rule:     getString(m, "rule"),
					Severity: getString(m, "severity"),
					Line:     getInt(m, "line"),
					Message:  getString(m, "message"),
				})
			}
		}
	}
	sort.Slice(result.Advisories, func(i, j int) bool {
		a, b := result.Advisories[i], result.Advisories[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if m, ok := rs[0].Expressions[0].Value.(map[string]interface{}); ok {
			result.Summary = Summary{
				Total:    getInt(m, "total"),
				Warnings: getInt(m, "warnings"),
				Info:     getInt(m, "info"),
			}
		}
	}

	return result, nil
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
