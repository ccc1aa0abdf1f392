package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Console manages styled CLI output and a single progress line.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	spinner    *spinner
	spinnerMsg string
	isSpinning bool
	done       chan struct{}
	isQuiet    bool
	Bold       *color.Color
	Green      *color.Color
	Yellow     *color.Color
	Red        *color.Color
	Cyan       *color.Color
	Gray       *color.Color
}

// New creates a new Console writing to stderr.
func New(quiet bool) *Console {
	return NewWithWriter(os.Stderr, quiet)
}

// NewWithWriter creates a Console writing to w.
func NewWithWriter(w io.Writer, quiet bool) *Console {
	return &Console{
		out:     w,
		isQuiet: quiet,
		Bold:    color.New(color.Bold),
		Green:   color.New(color.FgGreen),
		Yellow:  color.New(color.FgYellow),
		Red:     color.New(color.FgRed),
		Cyan:    color.New(color.FgCyan),
		Gray:    color.New(color.FgHiBlack),
	}
}

// Quiet reports whether output other than errors is suppressed.
func (c *Console) Quiet() bool {
	return c.isQuiet
}

func (c *Console) print(col *color.Color, prefix, format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerInternal()
	msg := prefix + fmt.Sprintf(format, a...)
	if col == nil {
		fmt.Fprintln(c.out, msg)
		return
	}
	_, _ = col.Fprintln(c.out, msg)
}

// Info prints a standard informational message.
func (c *Console) Info(format string, a ...interface{}) {
	if c.isQuiet {
		return
	}
	c.print(nil, "", format, a...)
}

// Success prints a success message.
func (c *Console) Success(format string, a ...interface{}) {
	if c.isQuiet {
		return
	}
	c.print(c.Green, "✓ ", format, a...)
}

// Warn prints a warning message.
func (c *Console) Warn(format string, a ...interface{}) {
	if c.isQuiet {
		return
	}
	c.print(c.Yellow, "! ", format, a...)
}

// Error prints an error message. Errors are printed in quiet mode too.
func (c *Console) Error(format string, a ...interface{}) {
	c.print(c.Red, "✗ ", format, a...)
}

// Println writes a plain line, bypassing quiet mode. Used for command output such as tables.
func (c *Console) Println(a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerInternal()
	fmt.Fprintln(c.out, a...)
}

// StartProgress starts a dynamic progress line with a spinner.
func (c *Console) StartProgress(message string) {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerInternal()

	c.spinner = newSpinner()
	c.spinnerMsg = message
	c.isSpinning = true
	done := make(chan struct{})
	c.done = done

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			c.mu.Lock()
			if c.done != done {
				c.mu.Unlock()
				return
			}
			fmt.Fprintf(c.out, "\r\033[K%s %s", c.Green.Sprint(c.spinner.next()), c.spinnerMsg)
			c.mu.Unlock()
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// UpdateProgress updates the message of the current progress line.
func (c *Console) UpdateProgress(message string) {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isSpinning {
		c.spinnerMsg = message
	}
}

// StopProgress stops the progress line.
func (c *Console) StopProgress() {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerInternal()
}

// stopSpinnerInternal stops the spinner and clears the current line. c.mu must be held.
func (c *Console) stopSpinnerInternal() {
	if !c.isSpinning {
		return
	}
	c.isSpinning = false
	close(c.done)
	c.done = nil
	fmt.Fprint(c.out, "\r\033[K")
}

// spinner manages the animation frames for a spinner.
type spinner struct {
	frames []string
	index  int
}

func newSpinner() *spinner {
	return &spinner{
		frames: []string{"⣷", "⣯", "⣟", "⡿", "⢿", "⣻", "⣽", "⣾"},
	}
}

// next returns the next frame in the spinner animation.
func (s *spinner) next() string {
	frame := s.frames[s.index]
	s.index = (s.index + 1) % len(s.frames)
	return frame
}
