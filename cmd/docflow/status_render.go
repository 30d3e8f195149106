package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"docflow/internal/tasks"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 12

func statusColor(status tasks.Status) string {
	switch status {
	case tasks.StatusCompleted:
		return ansiGreen
	case tasks.StatusFailed:
		return ansiRed
	case tasks.StatusBlocked:
		return ansiYellow
	case tasks.StatusRunning:
		return ansiBlue
	default:
		return ""
	}
}

func paintStatus(status tasks.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	if color := statusColor(status); color != "" {
		return color + label + ansiReset
	}
	return label
}

// renderCounts prints one line per status in lifecycle order.
func renderCounts(counts map[tasks.Status]int, colorize bool) []string {
	lines := make([]string, 0, len(counts))
	for _, status := range tasks.AllStatuses() {
		label := fmt.Sprintf("  %-*s", statusLabelWidth, string(status)+":")
		line := fmt.Sprintf("%s %d", label, counts[status])
		if colorize && counts[status] > 0 {
			if color := statusColor(status); color != "" {
				line = color + line + ansiReset
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
