package cmdutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/endorses/filterkit/internal/pkg/management"
)

// Exit codes for CLI commands
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitConnectionError = 2
	ExitValidationError = 3
	ExitNotFoundError   = 4
)

var exit = os.Exit

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// OutputJSON writes v to w as JSON: indented when w is a terminal,
// compact single-line JSON when piped or redirected.
func OutputJSON(w io.Writer, v any) error {
	var (
		data []byte
		err  error
	)
	if isTerminal(w) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// OutputError writes err to w in JSON format and exits with exitCode.
func OutputError(w io.Writer, err error, exitCode int) {
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  mapExitCodeToString(exitCode),
	}

	var apiErr *management.APIError
	if errors.As(err, &apiErr) {
		resp.Code = apiErr.Code
		resp.Error = apiErr.Message
	}

	data, _ := json.Marshal(resp)
	fmt.Fprintln(w, string(data))
	exit(exitCode)
}

// MapError maps a management client error to an exit code.
func MapError(err error) int {
	var apiErr *management.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return ExitNotFoundError
		case http.StatusBadRequest:
			return ExitValidationError
		case http.StatusServiceUnavailable:
			return ExitConnectionError
		}
		return ExitGeneralError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ExitConnectionError
	}
	return ExitGeneralError
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func mapExitCodeToString(code int) string {
	switch code {
	case ExitSuccess:
		return "OK"
	case ExitConnectionError:
		return "UNAVAILABLE"
	case ExitValidationError:
		return "INVALID_ARGUMENT"
	case ExitNotFoundError:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// PrintResult writes v to the command's stdout as JSON, or reports err
// with its mapped exit code.
func PrintResult(cmd *cobra.Command, v any, err error) {
	if err != nil {
		OutputError(cmd.ErrOrStderr(), err, MapError(err))
		return
	}
	if err := OutputJSON(cmd.OutOrStdout(), v); err != nil {
		OutputError(cmd.ErrOrStderr(), err, ExitGeneralError)
	}
}
