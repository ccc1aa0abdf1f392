package password

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", Hash("password"))
}

func pipeWith(t *testing.T, input string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPromptFromPipe(t *testing.T) {
	var out bytes.Buffer
	pw, err := Prompt(&out, pipeWith(t, "s3cret\r\nignored\n"), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
	assert.Equal(t, "Password: ", out.String())
}

func TestPromptWithoutNewline(t *testing.T) {
	pw, err := Prompt(&bytes.Buffer{}, pipeWith(t, "abc"), "")
	require.NoError(t, err)
	assert.Equal(t, "abc", pw)
}

func TestPromptEmpty(t *testing.T) {
	_, err := Prompt(&bytes.Buffer{}, pipeWith(t, "\n"), "")
	assert.Error(t, err)
	_, err = Prompt(&bytes.Buffer{}, pipeWith(t, ""), "")
	assert.Error(t, err)
}
