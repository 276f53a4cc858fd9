package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"vigil/core"
	"vigil/store"
)

const tableWidth = 100

// maxTableLogs caps the log section of the table view.
const maxTableLogs = 15

// renderView prints the reconciled view as tables.
func renderView(w io.Writer, v store.View) {
	renderStats(w, v)
	fmt.Fprintln(w)
	renderThreats(w, v.Threats)
	fmt.Fprintln(w)
	renderAlerts(w, v.Alerts)
	fmt.Fprintln(w)
	renderLogs(w, v.Logs)
}

func renderStats(w io.Writer, v store.View) {
	headerColor.Fprintln(w, "DASHBOARD")
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
	printField(w, "Active threats", fmt.Sprintf("%d", v.Stats.ActiveThreats))
	printField(w, "By severity", formatThreatLevels(v.Stats.ThreatLevels))
	printField(w, "Unread alerts", fmt.Sprintf("%d", v.Stats.UnreadAlerts))
	printField(w, "Total logs", fmt.Sprintf("%d", v.Stats.TotalLogs))
	if v.Connection != "" {
		printField(w, "Push connection", formatConnection(v.Connection))
	}
	printField(w, "Version", fmt.Sprintf("%d", v.Version))
}

func renderThreats(w io.Writer, threats []core.Threat) {
	headerColor.Fprintln(w, "THREATS")
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
	if len(threats) == 0 {
		warningColor.Fprintln(w, "No threats")
		return
	}
	fmt.Fprintf(w, "%-12s %-18s %-18s %-10s %-7s %-12s %-15s\n",
		"ID", "Category", "Source", "Severity", "Conf", "Status", "Detected")
	fmt.Fprintln(w, strings.Repeat("-", tableWidth))
	for _, t := range threats {
		fmt.Fprintf(w, "%-12s %-18s %-18s %s %-7s %s %-15s\n",
			truncate(t.ID.String(), 12),
			truncate(t.Category, 18),
			truncate(t.Source, 18),
			pad(formatSeverity(t.Severity), t.Severity.String(), 10),
			fmt.Sprintf("%.0f%%", t.Confidence),
			pad(formatThreatStatus(t.Status), t.Status.String(), 12),
			formatTimeSince(t.Timestamp))
	}
}

func renderAlerts(w io.Writer, alerts []core.Alert) {
	headerColor.Fprintln(w, "ALERTS")
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
	if len(alerts) == 0 {
		warningColor.Fprintln(w, "No alerts")
		return
	}
	fmt.Fprintf(w, "%-16s %-10s %-6s %s\n", "ID", "Severity", "Read", "Message")
	fmt.Fprintln(w, strings.Repeat("-", tableWidth))
	for _, a := range alerts {
		read := "no"
		if a.Read {
			read = "yes"
		}
		fmt.Fprintf(w, "%-16s %s %-6s %s\n",
			truncate(a.ID.String(), 16),
			pad(formatSeverity(a.Severity), a.Severity.String(), 10),
			read,
			truncate(a.Message, 60))
	}
}

func renderLogs(w io.Writer, logs []core.LogEntry) {
	headerColor.Fprintln(w, "LOGS")
	headerColor.Fprintln(w, strings.Repeat("=", tableWidth))
	if len(logs) == 0 {
		warningColor.Fprintln(w, "No log entries")
		return
	}
	fmt.Fprintf(w, "%-10s %-9s %-14s %-7s %s\n", "ID", "Level", "Source", "Score", "Message")
	fmt.Fprintln(w, strings.Repeat("-", tableWidth))
	shown := logs
	if len(shown) > maxTableLogs {
		shown = shown[:maxTableLogs]
	}
	for _, l := range shown {
		score := fmt.Sprintf("%.2f", l.AnomalyScore)
		if l.IsAnomalous() {
			score = errorColor.Sprint(score)
		}
		fmt.Fprintf(w, "%-10s %-9s %-14s %-7s %s\n",
			truncate(l.ID.String(), 10),
			l.Level,
			truncate(l.Source, 14),
			score,
			truncate(l.Message, 50))
	}
	if len(logs) > len(shown) {
		infoColor.Fprintf(w, "... %d more\n", len(logs)-len(shown))
	}
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func formatSeverity(s core.Severity) string {
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case core.SeverityHigh:
		return color.New(color.FgRed).Sprint(s)
	case core.SeverityMedium:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return color.New(color.FgGreen).Sprint(s)
	}
}

// formatThreatLevels lists the per-severity counts from highest to lowest.
func formatThreatLevels(levels map[core.Severity]int) string {
	if len(levels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(core.Severities))
	for i := len(core.Severities) - 1; i >= 0; i-- {
		sev := core.Severities[i]
		parts = append(parts, fmt.Sprintf("%s %d", formatSeverity(sev), levels[sev]))
	}
	return strings.Join(parts, "  ")
}

func formatThreatStatus(s core.ThreatStatus) string {
	switch s {
	case core.ThreatStatusActive:
		return color.New(color.FgRed).Sprint(s)
	case core.ThreatStatusMitigating:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return color.New(color.FgGreen).Sprint(s)
	}
}

func formatConnection(c core.ConnectionState) string {
	switch c {
	case core.ConnectionOpen:
		return successColor.Sprint(c)
	case core.ConnectionConnecting:
		return warningColor.Sprint(c)
	default:
		return errorColor.Sprint(c) + " (view may be stale)"
	}
}

// pad right-pads a colored string to width using the plain text's length,
// since escape codes break %-Ns alignment.
func pad(colored, plain string, width int) string {
	if n := width - len(plain); n > 0 {
		return colored + strings.Repeat(" ", n)
	}
	return colored
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// formatTimeSince formats a time as "X ago"
func formatTimeSince(ts core.Timestamp) string {
	if ts.IsZero() {
		return "unknown"
	}
	d := time.Since(ts.Time)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
