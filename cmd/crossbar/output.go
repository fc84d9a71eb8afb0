package main

import (
	"fmt"
	"os"
)

// ANSI escapes for terminal output. All helpers write to stderr so stdout
// stays clean for response text (pipeable).
const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
	ansiBold  = "\033[1m"
)

func colorize(code, text string) string {
	if noColor {
		return text
	}
	return code + text + ansiReset
}

// mark prints a colored sigil followed by a formatted message.
func mark(code, sigil, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(code, sigil+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { mark(ansiGreen, "✓", format, args...) }
func printError(format string, args ...any)   { mark(ansiRed, "✗", format, args...) }
func printStep(format string, args ...any)    { mark(ansiCyan, "→", format, args...) }

// printStatus renders an indented "label: value" line for status listings.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
