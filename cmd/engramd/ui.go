package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/keggan-std/engramd/internal/dispatch"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// renderResult pretty-prints a dispatcher result for the terminal
// subcommands. On a pipe (or a dumb terminal) it degrades to raw JSON
// so the output stays scriptable.
func renderResult(w io.Writer, result dispatch.Result) error {
	text := ""
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}

	if !isTTY() {
		_, err := fmt.Fprintln(w, text)
		return err
	}

	if result.IsError {
		fmt.Fprintln(w, errStyle.Render("error:"), text)
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		fmt.Fprintln(w, text)
		return nil
	}

	width := 80
	if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
		width = tw
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, titleStyle.Render("engramd"))
	for _, k := range keys {
		line := fmt.Sprintf("%s %v", keyStyle.Render(k+":"), compactValue(payload[k]))
		if len(line) > width {
			line = line[:width-1] + dimStyle.Render("…")
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func compactValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func isTTY() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	// NO_COLOR or a dumb terminal: keep output machine-readable.
	return termenv.ColorProfile() != termenv.Ascii && !termenv.EnvNoColor()
}
