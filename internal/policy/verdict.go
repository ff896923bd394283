package policy

import (
	"errors"

	"github.com/ppiankov/warrant/internal/model"
)

// ErrEvaluationCycle marks a Requires closure that loops back on itself.
// It is never returned to callers: the verdict is Deny with Cycle set,
// and the cycle is logged.
var ErrEvaluationCycle = errors.New("policy: evaluation cycle in requires closure")

// Reason is the machine-readable cause of a verdict.
type Reason string

const (
	ReasonPermitted        Reason = "permitted"
	ReasonForbidden        Reason = "forbidden"
	ReasonNoPermit         Reason = "no_permit"
	ReasonRequirementUnmet Reason = "requirement_unmet"
	ReasonEvaluationCycle  Reason = "evaluation_cycle"
	ReasonConflict         Reason = "conflict"
)

// Verdict is the outcome of one evaluation. MatchedRelations lists the
// relation ids that determined Decision, sorted.
type Verdict struct {
	Decision          model.Verdict `json:"decision"`
	Reason            Reason        `json:"reason"`
	MatchedRelations  []string      `json:"matched_relations"`
	PolicyVersionHash string        `json:"policy_version_hash"`
	Cycle             bool          `json:"cycle,omitempty"`
}

// Allowed reports whether the verdict is Allow.
func (v Verdict) Allowed() bool { return v.Decision == model.Allow }
