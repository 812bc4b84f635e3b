package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	progressOut io.Writer = os.Stderr

	spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

// ProgressStep is one stage of a longer operation, e.g. discovery
type ProgressStep struct {
	Message string
	Fn      func() error
}

// ShowProgress runs fn behind a spinner when stderr is a terminal. Otherwise
// the message is logged and the elapsed time is logged at debug level.
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	return runStep(ctx, message, fn)
}

// ShowProgressWithSteps runs steps in order and stops at the first failure
func ShowProgressWithSteps(ctx context.Context, steps []ProgressStep) error {
	for i, step := range steps {
		msg := fmt.Sprintf("[%d/%d] %s", i+1, len(steps), step.Message)
		if err := runStep(ctx, msg, step.Fn); err != nil {
			return fmt.Errorf("%s: %w", step.Message, err)
		}
	}
	return nil
}

func runStep(ctx context.Context, message string, fn func() error) error {
	began := time.Now()
	if !isTerminal(progressOut) {
		LogInfo(message)
		err := fn()
		LogDebug("%s finished in %s", message, elapsed(began))
		return err
	}
	return spin(ctx, message, began, fn)
}

// spin redraws one status line until fn returns or ctx is cancelled. fn
// keeps running after a cancellation; callers pass it the same ctx.
func spin(ctx context.Context, message string, began time.Time, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		select {
		case err := <-done:
			symbol := successStyle.Render("✓")
			if err != nil {
				symbol = errorStyle.Render("✗")
			}
			fmt.Fprintf(progressOut, "\r%s %s %s\n", symbol, message, mutedStyle.Render(elapsed(began)))
			return err
		case <-ctx.Done():
			fmt.Fprintf(progressOut, "\r%s %s %s\n", warningStyle.Render("!"), message, mutedStyle.Render("cancelled"))
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprintf(progressOut, "\r%s %s %s", progressStyle.Render(spinnerFrames[frame%len(spinnerFrames)]),
				message, mutedStyle.Render(elapsed(began)))
		}
	}
}

func elapsed(since time.Time) string {
	return time.Since(since).Round(100 * time.Millisecond).String()
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// IsTerminal reports whether stdin is interactive
func IsTerminal() bool {
	return isTerminal(os.Stdin)
}

// printStatus writes one status line, styled on a terminal and prefixed
// with plain text elsewhere.
func printStatus(w io.Writer, style lipgloss.Style, symbol, plain, message string) {
	if isTerminal(w) {
		fmt.Fprintf(w, "%s %s\n", style.Render(symbol), message)
		return
	}
	fmt.Fprintf(w, "%s%s\n", plain, message)
}

// PrintSuccess reports a finished operation on stdout
func PrintSuccess(message string) { printStatus(os.Stdout, successStyle, "✓", "", message) }

// PrintError reports a failure on stderr
func PrintError(message string) { printStatus(os.Stderr, errorStyle, "✗", "", message) }

// PrintInfo writes an informational line on stdout
func PrintInfo(message string) { printStatus(os.Stdout, progressStyle, "ℹ", "", message) }

// PrintWarning writes a warning on stderr
func PrintWarning(message string) { printStatus(os.Stderr, warningStyle, "⚠", "WARNING: ", message) }

// Muted renders secondary text, e.g. omitted section names
func Muted(s string) string {
	return mutedStyle.Render(s)
}
