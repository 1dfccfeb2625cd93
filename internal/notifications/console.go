package notifications

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
)

// ConsolePublisher prints toasts as single terminal lines.
type ConsolePublisher struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
}

// NewConsolePublisher writes toasts to out, with ANSI colour when colorize is set.
func NewConsolePublisher(out io.Writer, colorize bool) *ConsolePublisher {
	return &ConsolePublisher{out: out, colorize: colorize}
}

func (c *ConsolePublisher) Publish(_ context.Context, toast Toast) error {
	line := fmt.Sprintf("%s %s", toastSymbol(toast.Level), toast.Message)
	if c.colorize {
		line = toastColor(toast.Level) + line + ansiReset
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, line)
	return err
}

func toastSymbol(level Level) string {
	switch level {
	case LevelSuccess:
		return "[OK]"
	case LevelError:
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}

func toastColor(level Level) string {
	switch level {
	case LevelSuccess:
		return ansiGreen
	case LevelError:
		return ansiRed
	default:
		return ansiBlue
	}
}

// ShouldColorize reports whether writer is an interactive terminal.
func ShouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
