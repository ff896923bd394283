package features

import (
	"os"
	"sort"
	"strings"
)

// Flag names consulted by the decision service.
const (
	VerdictCache       = "verdict_cache"
	TokenResourceScope = "token_resource_scope"
)

// Known lists every flag the module understands.
var Known = []string{TokenResourceScope, VerdictCache}

// Flags is a boolean lookup by flag name. Unknown names are disabled.
type Flags interface {
	Enabled(name string) bool
}

type staticFlags map[string]bool

var _ Flags = staticFlags{}

func (f staticFlags) Enabled(name string) bool {
	return f[name]
}

// FromMap returns flags backed by a copy of m.
func FromMap(m map[string]bool) Flags {
	f := make(staticFlags, len(m))
	for k, v := range m {
		f[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return f
}

// AllEnabled returns flags with every Known feature switched on.
func AllEnabled() Flags {
	f := make(staticFlags, len(Known))
	for _, name := range Known {
		f[name] = true
	}
	return f
}

// AllDisabled returns flags with every feature off.
func AllDisabled() Flags {
	return staticFlags{}
}

// WithEnv overlays WARRANT_FEATURE_<NAME>=1|0 environment variables on
// base for every known flag.
func WithEnv(base Flags) Flags {
	f := make(staticFlags, len(Known))
	for _, name := range Known {
		f[name] = base != nil && base.Enabled(name)
		v, ok := os.LookupEnv("WARRANT_FEATURE_" + strings.ToUpper(name))
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			f[name] = true
		case "0", "false", "off", "no":
			f[name] = false
		}
	}
	return f
}

// EnabledNames returns the known flags that are on, sorted.
func EnabledNames(f Flags) []string {
	var out []string
	for _, name := range Known {
		if f.Enabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
