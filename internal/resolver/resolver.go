// Package resolver turns oracle replies into relation, action and back
// verdicts for one screen.
package resolver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fentz26/uta/internal/models"
)

var errSchemaMismatch = errors.New("schema mismatch")

// History renders the task's steps as numbered lines for the oracle, so it
// can avoid repeating itself.
func History(task *models.Task) string {
	var b strings.Builder
	for _, s := range task.Steps {
		switch v := s.(type) {
		case *models.AutomationStep:
			fmt.Fprintf(&b, "%d. ", v.Seq)
			if v.Relation != nil {
				fmt.Fprintf(&b, "screen %s", v.Relation.Kind)
			}
			if v.Action != nil {
				fmt.Fprintf(&b, ", did %s", v.Action)
				if v.IsGoBack {
					b.WriteString(" (go back)")
				}
			}
			if v.ExecutionResult != "" {
				fmt.Fprintf(&b, ", result %s", v.ExecutionResult)
			}
			b.WriteByte('\n')
		case *models.InquiryStep:
			fmt.Fprintf(&b, "%d. asked %q\n", v.Seq, v.UserMessage)
		}
	}
	return b.String()
}

// parseID coerces an oracle element reference to an int. Values such as
// "None", "" or "n/a" report false.
func parseID(s string) (int, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

// parseYes reads a Yes/No style flag.
func parseYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y", "1":
		return true
	}
	return false
}
