package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mrz1836/tessera/internal/api"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// ErrorOutput is the JSON rendering of an error.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// Describe converts err into its display form. Backend errors keep their
// API code and request ID.
func Describe(err error) ErrorDetail {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		d := ErrorDetail{
			Code:      string(apiErr.Code),
			Message:   apiErr.Message,
			RequestID: apiErr.RequestID,
			ExitCode:  tserr.ExitCode(apiErr),
		}
		if d.Message == "" {
			d.Message = strings.ToLower(strings.ReplaceAll(d.Code, "_", " "))
		}
		if apiErr.Status != 0 || len(apiErr.Details) > 0 {
			d.Details = make(map[string]string, len(apiErr.Details)+1)
			for k, v := range apiErr.Details {
				d.Details[k] = fmt.Sprint(v)
			}
			if apiErr.Status != 0 {
				d.Details["status"] = strconv.Itoa(apiErr.Status)
			}
		}
		return d
	}

	var te *tserr.TesseraError
	if errors.As(err, &te) {
		return ErrorDetail{
			Code:       te.Code,
			Message:    te.Message,
			Details:    te.Details,
			Suggestion: te.Suggestion,
			ExitCode:   te.ExitCode,
		}
	}
	return ErrorDetail{Code: "GENERAL_ERROR", Message: err.Error(), ExitCode: tserr.ExitGeneral}
}

// FormatError writes err to w. A user cancellation writes nothing.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil || tserr.IsCancelled(err) {
		return nil
	}

	detail := Describe(err)
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ErrorOutput{Error: detail})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", detail.Message)
	if len(detail.Details) > 0 {
		keys := make([]string, 0, len(detail.Details))
		for k := range detail.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, detail.Details[k])
		}
	}
	if detail.RequestID != "" {
		fmt.Fprintf(&sb, "\nRequest ID: %s\n", detail.RequestID)
	}
	if detail.Suggestion != "" {
		fmt.Fprintf(&sb, "\nSuggestion: %s\n", detail.Suggestion)
	}
	_, werr := io.WriteString(w, sb.String())
	return werr
}
