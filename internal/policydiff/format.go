package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)
	fmt.Fprintf(&b, "\n  %-10s %s\n  %-10s %s\n", "old hash:", r.OldHash, "new hash:", r.NewHash)

	if len(r.TermChanges) > 0 {
		b.WriteString("\n  Terms:\n")
		for _, tc := range r.TermChanges {
			fmt.Fprintf(&b, "    %s %s (%s)", marker(tc.Type), tc.ID, tc.Kind)
			if len(tc.Fields) > 0 {
				fmt.Fprintf(&b, "  [%s]", strings.Join(tc.Fields, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(r.RelationChanges) > 0 {
		b.WriteString("\n  Relations:\n")
		for _, rc := range r.RelationChanges {
			fmt.Fprintf(&b, "    %s %s\n", marker(rc.Type), rc.Rule())
		}
	}

	return b.String()
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func marker(typ string) string {
	switch typ {
	case Added:
		return "+"
	case Removed:
		return "-"
	default:
		return "~"
	}
}
