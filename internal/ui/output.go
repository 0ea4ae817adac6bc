// Package ui provides colored terminal output helpers for the CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

// Header prints a centered section banner.
func Header(text string) {
	c := color.New(color.FgCyan, color.Bold)
	line := strings.Repeat("=", headerWidth)
	c.Println(line)
	c.Println(center(text, headerWidth))
	c.Println(line)
}

// Step prints a numbered progress step.
func Step(n, total int, text string) {
	color.New(color.FgBlue, color.Bold).Printf("[%d/%d] ", n, total)
	fmt.Println(text)
}

// Success prints a green success message.
func Success(text string) {
	color.New(color.FgGreen).Printf("✓ %s\n", text)
}

// Info prints a neutral informational message.
func Info(text string) {
	fmt.Printf("  %s\n", text)
}

// Warning prints a yellow warning message.
func Warning(text string) {
	color.New(color.FgYellow).Printf("! %s\n", text)
}

// Error prints a red error message.
func Error(text string) {
	color.New(color.FgRed).Printf("✗ %s\n", text)
}

// BlueText returns text wrapped in blue color codes.
func BlueText(text string) string {
	return color.New(color.FgBlue).Sprint(text)
}

// YellowText returns text wrapped in yellow color codes.
func YellowText(text string) string {
	return color.New(color.FgYellow).Sprint(text)
}

// center pads text on the left so it appears centered within width.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	pad := (width - len(text)) / 2
	return strings.Repeat(" ", pad) + text
}
