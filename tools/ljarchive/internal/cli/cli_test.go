package cli

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a buffer shared with the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMessages(t *testing.T) {
	color.NoColor = true
	var out syncBuffer
	c := NewWithWriter(&out, false)
	c.Info("syncing %s", "alice")
	c.Success("done")
	c.Warn("careful")
	c.Error("failed: %d", 3)
	assert.Equal(t, "syncing alice\n✓ done\n! careful\n✗ failed: 3\n", out.String())
}

func TestQuietKeepsErrors(t *testing.T) {
	color.NoColor = true
	var out syncBuffer
	c := NewWithWriter(&out, true)
	c.Info("hidden")
	c.Warn("hidden")
	c.StartProgress("hidden")
	c.Error("shown")
	assert.True(t, c.Quiet())
	assert.Equal(t, "✗ shown\n", out.String())
}

func TestProgressLineIsClearedBeforeMessages(t *testing.T) {
	color.NoColor = true
	var out syncBuffer
	c := NewWithWriter(&out, false)
	c.StartProgress("working")
	c.UpdateProgress("still working")
	time.Sleep(250 * time.Millisecond)
	c.Info("next")
	c.StopProgress()

	s := out.String()
	assert.Contains(t, s, "working")
	assert.True(t, strings.HasSuffix(s, "\r\033[Knext\n"), "got %q", s)
}
