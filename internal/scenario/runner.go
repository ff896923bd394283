// Package scenario runs policy assertion files: each case is a request
// with the verdict it must receive. Cases are evaluated as dry runs, so
// nothing is signed or recorded.
package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/warrant/internal/graph"
	"github.com/ppiankov/warrant/internal/model"
	"github.com/ppiankov/warrant/internal/policy"
)

// Run evaluates all cases in a scenario against g. Cases are independent.
func Run(ctx context.Context, s *Scenario, g *graph.Graph) *RunResult {
	result := &RunResult{
		Name:              s.Name,
		PolicyVersionHash: g.VersionHash(),
		Total:             len(s.Cases),
	}

	for i, c := range s.Cases {
		req := model.Request{
			Actor:    c.Actor,
			Action:   c.Action,
			Tool:     c.Tool,
			Resource: c.Resource,
			Context:  c.Context,
		}

		expected := strings.ToLower(strings.TrimSpace(c.Expect))
		cr := CaseResult{
			Index:    i + 1,
			Actor:    c.Actor,
			Action:   c.Action,
			Tool:     c.Tool,
			Expected: expected,
		}

		if err := req.Validate(); err != nil {
			cr.Actual = "invalid"
			cr.Reason = err.Error()
		} else {
			v := policy.Evaluate(ctx, g, req, nil)
			cr.Actual = string(v.Decision)
			cr.Reason = string(v.Reason)
		}

		if cr.Actual == expected && (c.Reason == "" || c.Reason == cr.Reason) {
			cr.Passed = true
			result.Passed++
		} else {
			if c.Reason != "" && cr.Actual == expected {
				cr.Expected = expected + " (" + c.Reason + ")"
			}
			result.Failed++
		}

		result.Cases = append(result.Cases, cr)
	}

	return result
}

// LoadAndRun loads a scenario YAML file and runs it against its own
// policy, or the document at policyPath when the scenario names none.
func LoadAndRun(ctx context.Context, path, policyPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if s.Policy != "" {
		policyPath = s.Policy
		if !filepath.IsAbs(policyPath) {
			policyPath = filepath.Join(filepath.Dir(path), policyPath)
		}
	}
	if policyPath == "" {
		return nil, fmt.Errorf("scenario %s names no policy", path)
	}

	g, err := graph.LoadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	result := Run(ctx, &s, g)
	result.File = path

	return result, nil
}
