package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingWriter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"session cookie", "headers map[Cookie:[ljsession=v2:u1:s77:abc]]", "headers map[Cookie:[ljsession=[SESSION]]]"},
		{"auth params", "params auth_response=deadbeef&mode=login", "params auth_response=[SECRET]&mode=login"},
		{"digest", "hash 5f4dcc3b5aa765d61d8327deb882cf99 used", "hash [DIGEST] used"},
		{"output path", "saved /home/me/archive/lj/1.xml", "saved [OUTPUT_PATH]/lj/1.xml"},
		{"journal", "syncing Some_User from https://some-user.livejournal.com", "syncing [JOURNAL] from https://[JOURNAL].livejournal.com"},
		{"unrelated", "got 3 post(s)", "got 3 post(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewRedactingWriter(&buf, "/home/me/archive", []string{"some_user", " "})
			n, err := w.Write([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, len(tt.in), n)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
