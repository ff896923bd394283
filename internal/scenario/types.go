package scenario

// Case is one test case within a scenario.
type Case struct {
	Actor    string         `yaml:"actor"`
	Action   string         `yaml:"action"`
	Tool     string         `yaml:"tool"`
	Resource string         `yaml:"resource,omitempty"`
	Context  map[string]any `yaml:"context,omitempty"`
	Expect   string         `yaml:"expect"`
	// Reason optionally pins the verdict reason, e.g. "forbidden".
	Reason string `yaml:"reason,omitempty"`
}

// Scenario is a named collection of policy test cases.
type Scenario struct {
	Name string `yaml:"name"`
	// Policy is the document under test, relative to the scenario file.
	// Empty means the policy given on the command line.
	Policy string `yaml:"policy,omitempty"`
	Cases  []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Actor    string `json:"actor"`
	Action   string `json:"action"`
	Tool     string `json:"tool"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File              string       `json:"file"`
	Name              string       `json:"name"`
	PolicyVersionHash string       `json:"policy_version_hash"`
	Total             int          `json:"total"`
	Passed            int          `json:"passed"`
	Failed            int          `json:"failed"`
	Cases             []CaseResult `json:"cases"`
}
