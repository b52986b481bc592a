package server

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestASCIIWriter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"NoNewlines", []string{"hello"}, "hello"},
		{"BareLF", []string{"a\nb\n"}, "a\r\nb\r\n"},
		{"AlreadyCRLF", []string{"a\r\nb\r\n"}, "a\r\nb\r\n"},
		{"Mixed", []string{"a\nb\r\nc\n"}, "a\r\nb\r\nc\r\n"},
		{"LeadingLF", []string{"\nx"}, "\r\nx"},
		{"ConsecutiveLF", []string{"\n\n"}, "\r\n\r\n"},
		{"CRSplitAcrossWrites", []string{"a\r", "\nb"}, "a\r\nb"},
		{"LFSplitAcrossWrites", []string{"a", "\n"}, "a\r\n"},
		{"LoneCR", []string{"a\rb"}, "a\rb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := newASCIIWriter(&buf)
			for _, chunk := range tt.writes {
				n, err := w.Write([]byte(chunk))
				require.NoError(t, err)
				assert.Equal(t, len(chunk), n, "Write must report source bytes")
			}
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
