package rules

import "fmt"

// Severity of a catalog diagnostic.
type Severity string

const (
	// SeverityError means the rule (or the whole catalog) was dropped.
	SeverityError Severity = "error"

	// SeverityWarning means the rule was kept but likely misbehaves.
	SeverityWarning Severity = "warning"
)

// Issue is one catalog diagnostic.
type Issue struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule,omitempty"`
	Line     int      `json:"line,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	loc := ""
	if i.Line > 0 {
		loc = fmt.Sprintf("line %d: ", i.Line)
	}
	subject := i.Rule
	if i.Field != "" {
		if subject != "" {
			subject += "."
		}
		subject += i.Field
	}
	if subject != "" {
		subject += ": "
	}
	return fmt.Sprintf("%s%s%s%s", i.Severity, ": "+loc, subject, i.Message)
}

type issueList []Issue

func (l *issueList) errorf(rule string, line int, field, format string, args ...any) {
	*l = append(*l, Issue{
		Severity: SeverityError,
		Rule:     rule,
		Line:     line,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (l *issueList) warnf(rule string, line int, field, format string, args ...any) {
	*l = append(*l, Issue{
		Severity: SeverityWarning,
		Rule:     rule,
		Line:     line,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}
