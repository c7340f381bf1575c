// Package display provides terminal formatting for po output.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/daviddao/poflow/internal/types"
)

var (
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

// StatusDot returns a colored dot for a PO status.
func StatusDot(status string) string {
	switch status {
	case types.StatusDelayed, types.StatusOnHold, types.StatusPartialRejected:
		return ErrStyle.Render("●")
	case types.StatusIssued, types.StatusAwaitingAcknowledgment, types.StatusPartialAvailability,
		types.StatusPartialAccepted, types.StatusWaitingFullAvailability,
		types.StatusSplitRequested, types.StatusInfoRequested:
		return Warn.Render("○")
	case types.StatusAcknowledged:
		return Success.Render("○")
	case types.StatusDelivered, types.StatusClosed, types.StatusCompleted, types.StatusCancelled:
		return Dim.Render("◌")
	default:
		return Dim.Render("·")
	}
}

// StatusLabel returns a padded, styled status.
func StatusLabel(status string) string {
	label := fmt.Sprintf("%-24s", status)
	switch {
	case types.IsTerminal(status):
		return Dim.Render(label)
	case status == types.StatusDelayed || status == types.StatusOnHold:
		return ErrStyle.Render(label)
	default:
		return label
	}
}

// TimeAgo formats an ISO timestamp relative to now.
func TimeAgo(iso string, now time.Time) string {
	if iso == "" {
		return ""
	}
	t, ok := types.ParseTimestamp(iso)
	if !ok {
		return Truncate(iso, 10)
	}
	return Since(t, now)
}

// Since formats the time from t to now.
func Since(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "in " + Span(-d)
	case d < time.Minute:
		return "just now"
	case d < 7*24*time.Hour:
		return Span(d) + " ago"
	default:
		return t.Format("Jan 2")
	}
}

// Span renders a duration in its largest whole unit.
func Span(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Date renders an optional date.
func Date(t *time.Time) string {
	if t == nil {
		return Dim.Render("-")
	}
	return types.FormatDate(*t)
}

// Truncate shortens a string to maxLen runes, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	fmt.Println(Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Header prints a section header.
func Header(w io.Writer, title string) {
	fmt.Fprintln(w, Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(w io.Writer, title string) {
	fmt.Fprintln(w, Muted.Render(title))
}

// Field prints an aligned label/value pair.
func Field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", Muted.Render(fmt.Sprintf("%-22s", label+":")), value)
}

// ThreadTree prints one thread message in a tree-style format.
// connector is one of "┌─", "├─", "└─".
func ThreadTree(w io.Writer, connector string, m types.ThreadMessage, now time.Time) {
	arrow := "←"
	party := m.From
	if m.Direction == types.Outbound {
		arrow = "→"
		party = m.To
	}
	fmt.Fprintf(w, "  %s %s %s  ·  %s", Muted.Render(connector), arrow, Bold.Render(party), Dim.Render(TimeAgo(m.Timestamp, now)))
	if len(m.Labels) > 0 {
		fmt.Fprintf(w, "  %s", Dim.Render("["+strings.Join(m.Labels, ", ")+"]"))
	}
	fmt.Fprintln(w)

	prefix := "  │  "
	if connector == "└─" {
		prefix = "     "
	}
	if m.Subject != "" {
		fmt.Fprintf(w, "%s%s\n", Muted.Render(prefix), Truncate(m.Subject, 80))
	}
	if m.Body == "" {
		return
	}
	const maxLines = 3
	lines := strings.Split(strings.TrimSpace(m.Body), "\n")
	for i, line := range lines {
		if i >= maxLines {
			fmt.Fprintf(w, "%s%s\n", Muted.Render(prefix), Dim.Render(fmt.Sprintf("... (%d more lines)", len(lines)-maxLines)))
			break
		}
		fmt.Fprintf(w, "%s%s\n", Muted.Render(prefix), Truncate(strings.TrimSpace(line), 80))
	}
}
