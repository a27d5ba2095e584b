package output_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/tessera/internal/api"
	"github.com/mrz1836/tessera/internal/output"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

func TestFormatError(t *testing.T) {
	t.Parallel()
	walletErr := tserr.WithSuggestion(
		tserr.WithDetails(tserr.ErrInsufficientFunds, map[string]string{"wallet": "ADDR1"}),
		"add SOL to the wallet and retry",
	)
	apiErr := &api.Error{Status: 429, Code: api.CodeRateLimited, RequestID: "req-1", Details: map[string]any{"retryAfter": "3"}}

	tests := []struct {
		name     string
		err      error
		code     string
		exit     int
		contains []string
	}{
		{"structured", walletErr, "INSUFFICIENT_FUNDS", tserr.ExitPermission,
			[]string{"Details:", "wallet: ADDR1", "Suggestion: add SOL"}},
		{"backend", apiErr, "RATE_LIMITED", tserr.ExitGeneral,
			[]string{"Error: rate limited", "retryAfter: 3", "status: 429", "Request ID: req-1"}},
		//nolint:err113 // test error
		{"plain", errors.New("boom"), "GENERAL_ERROR", tserr.ExitGeneral, []string{"Error: boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var text bytes.Buffer
			require.NoError(t, output.FormatError(&text, tt.err, output.FormatText))
			for _, want := range tt.contains {
				assert.Contains(t, text.String(), want)
			}

			var js bytes.Buffer
			require.NoError(t, output.FormatError(&js, tt.err, output.FormatJSON))
			var out output.ErrorOutput
			require.NoError(t, json.Unmarshal(js.Bytes(), &out))
			assert.Equal(t, tt.code, out.Error.Code)
			assert.Equal(t, tt.exit, out.Error.ExitCode)
		})
	}
}

func TestFormatError_Silent(t *testing.T) {
	t.Parallel()
	for _, err := range []error{nil, tserr.ErrUserCancelled, tserr.Wrap(tserr.ErrUserCancelled, "login")} {
		var buf bytes.Buffer
		require.NoError(t, output.FormatError(&buf, err, output.FormatText))
		assert.Empty(t, buf.String())
	}
}

func TestFormatter_Emit(t *testing.T) {
	t.Parallel()
	v := map[string]string{"address": "ADDR1"}
	render := func(w io.Writer) error {
		_, err := io.WriteString(w, "address ADDR1\n")
		return err
	}

	var js bytes.Buffer
	f := output.NewFormatter(output.FormatAuto, &js)
	assert.True(t, f.IsJSON(), "non-terminal writers default to JSON")
	require.NoError(t, f.Emit(v, render))
	f.Printf("ignored in json mode")
	assert.JSONEq(t, `{"address":"ADDR1"}`, js.String())

	var text bytes.Buffer
	f = output.NewFormatter(output.FormatText, &text)
	require.NoError(t, f.Emit(v, render))
	require.NoError(t, f.Success("done"))
	assert.Equal(t, "address ADDR1\ndone\n", text.String())
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, output.FormatJSON, output.ParseFormat(" JSON "))
	assert.Equal(t, output.FormatText, output.ParseFormat("text"))
	assert.Equal(t, output.FormatAuto, output.ParseFormat("yaml"))
}

func TestTable(t *testing.T) {
	t.Parallel()
	tbl := output.NewTable("ADDRESS", "TYPE", "ACTIVE")
	tbl.AddRow("ADDR1", "external", "*")
	tbl.AddRow("LONGER-ADDRESS", "embedded")
	assert.Equal(t, 2, tbl.Len())

	lines := strings.Split(strings.TrimRight(tbl.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ADDRESS         TYPE      ACTIVE", lines[0])
	assert.Equal(t, "--------------  --------  ------", lines[1])
	assert.Equal(t, "ADDR1           external  *", lines[2])
	assert.Equal(t, "LONGER-ADDRESS  embedded", lines[3])
}

func TestPresentLink_NonTerminal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	link := "https://phantom.app/ul/v1/connect?dapp_encryption_public_key=abc"
	require.NoError(t, output.PresentLink(&buf, "Open in your wallet", link))
	assert.Equal(t, "Open in your wallet:\n  "+link+"\n", buf.String())
	assert.False(t, output.CanRenderQR(&buf))
}
