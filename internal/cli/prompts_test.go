package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

func TestPromptConfirmation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"YES\n", true},
		{"  y  \n", true},
		{"yes", true},
		{"n\n", false},
		{"no\n", false},
		{"\n", false},
		{"maybe\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, promptConfirmation(strings.NewReader(tt.input), "Send?"))
		})
	}
}

func TestPromptLine(t *testing.T) {
	t.Parallel()

	line, err := promptLine(strings.NewReader("123456\nignored\n"), "Code: ")
	require.NoError(t, err)
	assert.Equal(t, "123456", line)

	line, err = promptLine(strings.NewReader("  654321"), "Code: ")
	require.NoError(t, err)
	assert.Equal(t, "654321", line, "a final line without newline is accepted")

	_, err = promptLine(&bytes.Buffer{}, "Code: ")
	require.ErrorIs(t, err, tserr.ErrUserCancelled)
}

func TestWithMockPrompts(t *testing.T) {
	withMockPrompts(t, "424242", true)

	code, err := promptCodeFn("ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "424242", code)
	assert.True(t, promptConfirmFn(strings.NewReader("n\n"), "Send?"))
}
