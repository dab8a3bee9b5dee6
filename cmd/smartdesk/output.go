package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shail0iri/smartdesk/internal/stats"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printSummary renders s as the plain-text analysis report.
func printSummary(w io.Writer, s stats.Summary) {
	fmt.Fprintln(w, colorize(colorBold, "Analysis summary"))
	fmt.Fprintf(w, "  Total tickets:   %d\n", s.Total)
	fmt.Fprintf(w, "  Analyzed:        %d\n", s.Valid)
	fmt.Fprintf(w, "  Errors:          %d (%.1f%%)\n", s.Errors, s.ErrorRate)
	if s.Valid == 0 {
		return
	}
	fmt.Fprintf(w, "  Avg summary len: %.1f chars\n", s.AvgSummaryLength)

	for _, d := range []struct {
		name   string
		counts []stats.Count
	}{
		{"Sentiment", s.Sentiment},
		{"Urgency", s.Urgency},
		{"Category", s.Category},
	} {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, d.name))
		for _, c := range d.counts {
			fmt.Fprintf(w, "  %-20s %5d  %5.1f%%  %s\n", c.Label, c.Count, c.Percent, bar(c.Percent))
		}
	}
}

func bar(percent float64) string {
	return strings.Repeat("█", int(percent/5+0.5))
}
