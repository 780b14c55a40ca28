package main

import (
	"fmt"
	"io"
	"os"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// colorize honors both the --no-color flag and the NO_COLOR convention.
func colorize(color, text string) string {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return text
	}
	return color + text + ansiReset
}

func glyphLine(w io.Writer, color, glyph, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", colorize(color, glyph), fmt.Sprintf(format, args...))
}

// Results go to stdout; progress and diagnostics go to stderr so piped
// output stays clean.

func printSuccess(format string, args ...any) {
	glyphLine(os.Stdout, ansiGreen, "✓", format, args...)
}

func printError(format string, args ...any) {
	glyphLine(os.Stderr, ansiRed, "✗", format, args...)
}

func printWarning(format string, args ...any) {
	glyphLine(os.Stderr, ansiYellow, "⚠", format, args...)
}

func printStep(format string, args ...any) {
	glyphLine(os.Stderr, ansiCyan, "→", format, args...)
}

func printStatus(label string, format string, args ...any) {
	padded := fmt.Sprintf("%-14s", label)
	fmt.Fprintf(os.Stdout, "  %s %s\n", colorize(ansiBold, padded), fmt.Sprintf(format, args...))
}
