package policy

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/warrant/internal/condition"
	"github.com/ppiankov/warrant/internal/graph"
	"github.com/ppiankov/warrant/internal/health"
	"github.com/ppiankov/warrant/internal/model"
)

// Engine evaluates requests against the graph currently published in
// its Holder. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	holder *graph.Holder
	logger *slog.Logger
}

// NewEngine returns an engine reading from h. A nil logger discards.
func NewEngine(h *graph.Holder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{holder: h, logger: logger}
}

// Evaluate loads the current snapshot once and evaluates req against it.
func (e *Engine) Evaluate(ctx context.Context, req model.Request) Verdict {
	return e.EvaluateSnapshot(ctx, e.Snapshot(), req)
}

// Snapshot returns the currently published graph.
func (e *Engine) Snapshot() *graph.Graph { return e.holder.Load() }

// EvaluateSnapshot evaluates req against g, a graph previously returned
// by Snapshot.
func (e *Engine) EvaluateSnapshot(ctx context.Context, g *graph.Graph, req model.Request) Verdict {
	return Evaluate(ctx, g, req, e.logger)
}

// Health reports ok while a graph is published.
func (e *Engine) Health(context.Context) (health.Status, map[string]string) {
	g := e.holder.Load()
	if g == nil {
		return health.StatusDown, map[string]string{"error": "no policy graph published"}
	}
	terms, relations := g.Len()
	details := map[string]string{
		"policy_version_hash": g.VersionHash(),
		"terms":               strconv.Itoa(terms),
		"relations":           strconv.Itoa(relations),
	}
	if terms == 0 {
		details["warning"] = "policy graph is empty; every request is denied"
		return health.StatusDegraded, details
	}
	return health.StatusOK, details
}

// Evaluate evaluates req against g.
//
// Evaluation order (must not be changed):
//  1. Seed: request terms present in g, plus context terms set in the request context
//  2. Implies closure, breadth-first, each term expanded once
//  3. Activate candidate relations whose source is active and conditions hold
//  4. Forbids: any active Forbids denies
//  5. Default deny: no active Permits denies
//  6. Requires: targets must be active, transitively; a cycle through
//     an inactive term can never be satisfied
//  7. Conflicts: any active Conflicts denies
//  8. Allow
func Evaluate(ctx context.Context, g *graph.Graph, req model.Request, logger *slog.Logger) Verdict {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ev := &evaluation{
		ctx:    ctx,
		g:      g,
		vars:   requestVars(req),
		logger: logger,
		holds:  make(map[string]bool),
	}
	verdict := Verdict{PolicyVersionHash: g.VersionHash(), MatchedRelations: []string{}}

	// Step 1: seed
	seeds := ev.seed(req)

	// Step 2: implication closure
	active, implied := ev.closure(seeds)

	// Step 3: activation
	var permits, forbids, requires, conflicts []graph.Relation
	for _, id := range sortedKeys(active) {
		for _, r := range g.RelationsFrom(id) {
			switch r.Kind {
			case graph.Implies:
				continue
			case graph.Requires:
				if ev.conditionsHold(r) {
					requires = append(requires, r)
				}
				continue
			}
			if !active[r.Target] || !ev.conditionsHold(r) {
				continue
			}
			switch r.Kind {
			case graph.Permits:
				permits = append(permits, r)
			case graph.Forbids:
				forbids = append(forbids, r)
			case graph.Conflicts:
				conflicts = append(conflicts, r)
			}
		}
	}

	// Step 4: explicit deny wins
	if len(forbids) > 0 {
		verdict.Decision = model.Deny
		verdict.Reason = ReasonForbidden
		verdict.MatchedRelations = relationIDs(forbids)
		return verdict
	}

	// Step 5: absence of permission is not permission
	if len(permits) == 0 {
		verdict.Decision = model.Deny
		verdict.Reason = ReasonNoPermit
		return verdict
	}

	// Step 6: requirements
	if cycle := findUnsatisfiableCycle(ev.requiresClosure(requires), active); len(cycle) > 0 {
		logger.Warn("requires closure contains an unsatisfiable cycle, denying",
			"error", ErrEvaluationCycle,
			"relations", cycle,
			"policy_version_hash", verdict.PolicyVersionHash,
			"actor", req.Actor,
			"action", req.Action,
		)
		verdict.Decision = model.Deny
		verdict.Reason = ReasonEvaluationCycle
		verdict.MatchedRelations = cycle
		verdict.Cycle = true
		return verdict
	}
	var unmet []graph.Relation
	for _, r := range requires {
		if !active[r.Target] {
			unmet = append(unmet, r)
		}
	}
	if len(unmet) > 0 {
		verdict.Decision = model.Deny
		verdict.Reason = ReasonRequirementUnmet
		verdict.MatchedRelations = relationIDs(unmet)
		return verdict
	}

	// Step 7: mutual exclusion
	if len(conflicts) > 0 {
		verdict.Decision = model.Deny
		verdict.Reason = ReasonConflict
		verdict.MatchedRelations = relationIDs(conflicts)
		return verdict
	}

	// Step 8
	matched := relationIDs(permits)
	matched = append(matched, relationIDs(requires)...)
	matched = append(matched, implied...)
	sort.Strings(matched)
	verdict.Decision = model.Allow
	verdict.Reason = ReasonPermitted
	verdict.MatchedRelations = dedupeSorted(matched)
	return verdict
}

type evaluation struct {
	ctx    context.Context
	g      *graph.Graph
	vars   condition.Vars
	logger *slog.Logger
	holds  map[string]bool
}

// requestVars exposes the request context to conditions. The request
// fields are available under "request" unless the context defines it.
func requestVars(req model.Request) condition.Vars {
	vars := condition.NewVars(req.Context)
	if _, taken := vars["request"]; !taken {
		vars["request"] = map[string]any{
			"actor":    req.Actor,
			"action":   req.Action,
			"tool":     req.Tool,
			"resource": req.Resource,
		}
	}
	return vars
}

func (ev *evaluation) seed(req model.Request) map[string]bool {
	seeds := make(map[string]bool)
	add := func(raw string, prefixes ...string) {
		if id, ok := ResolveTerm(ev.g, raw, prefixes...); ok {
			seeds[id] = true
		}
	}
	add(req.Actor, graph.PrefixActor)
	add(req.Action, graph.PrefixAction)
	add(req.Tool, graph.PrefixTool, graph.PrefixResource)
	add(req.Resource, graph.PrefixResource, graph.PrefixData)

	for _, t := range ev.g.TermsByKind(graph.KindContext) {
		name := strings.TrimPrefix(t.ID, graph.PrefixContext)
		if v, ok := ev.vars.Lookup(name); ok && condition.Truthy(v) {
			seeds[t.ID] = true
		}
	}
	return seeds
}

// ResolveTerm maps a request id to a term of g. Ids that already name a
// term are used as is; bare ids are tried under each prefix in order.
func ResolveTerm(g *graph.Graph, raw string, prefixes ...string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if g.HasTerm(raw) {
		return raw, true
	}
	for _, p := range prefixes {
		if g.HasTerm(p + raw) {
			return p + raw, true
		}
	}
	return "", false
}

// closure expands seeds over active Implies relations. It returns the
// active term set and the ids of the Implies relations that fired.
func (ev *evaluation) closure(seeds map[string]bool) (map[string]bool, []string) {
	active := make(map[string]bool, len(seeds))
	queue := sortedKeys(seeds)
	for _, id := range queue {
		active[id] = true
	}
	var used []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, r := range ev.g.RelationsFrom(id) {
			if r.Kind != graph.Implies || !ev.conditionsHold(r) {
				continue
			}
			used = append(used, r.ID)
			if active[r.Target] {
				continue
			}
			active[r.Target] = true
			queue = append(queue, r.Target)
		}
	}
	sort.Strings(used)
	return active, used
}

// conditionsHold reports whether every condition of r is true. Results
// are memoized per evaluation; evaluation errors count as false.
func (ev *evaluation) conditionsHold(r graph.Relation) bool {
	if held, ok := ev.holds[r.ID]; ok {
		return held
	}
	held := true
	for _, p := range ev.g.Predicates(r.ID) {
		ok, err := p.Eval(ev.ctx, ev.vars)
		if err != nil {
			ev.logger.Debug("condition evaluation failed, treating as false",
				"relation", r.ID,
				"condition", p.String(),
				"error", err,
			)
		}
		if err != nil || !ok {
			held = false
			break
		}
	}
	ev.holds[r.ID] = held
	return held
}

// requiresClosure extends requires with the Requires relations reachable
// from their targets, following only relations whose conditions hold.
func (ev *evaluation) requiresClosure(requires []graph.Relation) []graph.Relation {
	out := append([]graph.Relation(nil), requires...)
	seen := make(map[string]bool, len(requires))
	for _, r := range requires {
		seen[r.ID] = true
	}
	for i := 0; i < len(out); i++ {
		for _, r := range ev.g.RelationsFrom(out[i].Target) {
			if r.Kind != graph.Requires || seen[r.ID] || !ev.conditionsHold(r) {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

// findUnsatisfiableCycle returns the sorted relation ids of a Requires
// cycle that passes through an inactive term, or nil. A cycle of
// active terms is satisfied and is not reported. Traversal order is by
// term and relation id, so the result is stable.
func findUnsatisfiableCycle(requires []graph.Relation, active map[string]bool) []string {
	if len(requires) == 0 {
		return nil
	}
	edges := make(map[string][]graph.Relation)
	for _, r := range requires {
		edges[r.Source] = append(edges[r.Source], r)
	}
	for src := range edges {
		sort.Slice(edges[src], func(i, j int) bool { return edges[src][i].ID < edges[src][j].ID })
	}

	for _, start := range sortedKeys(edges) {
		if active[start] {
			continue
		}
		if path := pathBack(edges, start); path != nil {
			return relationIDs(path)
		}
	}
	return nil
}

// pathBack returns a path of relations from start back to start.
func pathBack(edges map[string][]graph.Relation, start string) []graph.Relation {
	visited := make(map[string]bool)
	var path []graph.Relation

	var visit func(term string) bool
	visit = func(term string) bool {
		visited[term] = true
		for _, r := range edges[term] {
			path = append(path, r)
			if r.Target == start {
				return true
			}
			if !visited[r.Target] && visit(r.Target) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if visit(start) {
		return path
	}
	return nil
}

func relationIDs(rs []graph.Relation) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	sort.Strings(out)
	return dedupeSorted(out)
}

func dedupeSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
