package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// setupColor disables color unless out is a terminal.
func setupColor(out io.Writer) {
	f, ok := out.(*os.File)
	color.NoColor = !ok || !term.IsTerminal(int(f.Fd())) || os.Getenv("NO_COLOR") != ""
}

// newTable returns a borderless, left-aligned table writing to out.
func newTable(out io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewTable(out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// statusColor colors session and job statuses.
func statusColor(status string) string {
	switch status {
	case "active", "completed":
		return green(status)
	case "pending", "running":
		return yellow(status)
	case "failed", "killed":
		return red(status)
	default:
		return faint(status)
	}
}

// formatAgo renders the time since t relative to now, e.g. "3m ago".
func formatAgo(t, now time.Time) string {
	d := now.Sub(t)
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

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
