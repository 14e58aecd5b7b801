package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (resolution error, replay failures)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, missing database)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Errors that are not
// ExitErrors map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope written with --format json.
type Response struct {
	Status string         `json:"status"`
	Data   interface{}    `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command in JSON output.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Terminal palette.
var (
	colorOK      = color.New(color.FgGreen).SprintFunc()
	colorPending = color.New(color.FgYellow).SprintFunc()
	colorFailed  = color.New(color.FgRed).SprintFunc()
	colorID      = color.New(color.FgCyan).SprintFunc()
	colorHeader  = color.New(color.FgCyan, color.Bold).SprintFunc()
	colorDim     = color.New(color.Faint).SprintFunc()
)

// colorStatus colours a conflict or sync status.
func colorStatus(status string) string {
	switch status {
	case "resolved", "completed":
		return colorOK(status)
	case "pending", "manual":
		return colorPending(status)
	case "failed":
		return colorFailed(status)
	}
	return status
}

// output writes command results in the selected format.
type output struct {
	format string
	w      io.Writer
}

func (o output) json() bool { return o.format == "json" }

// data writes v as the JSON envelope. Text rendering is left to the caller.
func (o output) data(v interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(Response{Status: "ok", Data: v})
}

func (o output) printf(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format, args...)
}

// fail renders err in JSON mode and returns it so cobra exits non-zero.
func (o output) fail(code int, message string, err error) error {
	if o.json() {
		errCode := string(syncErrors.CodeOf(err))
		if errCode == "" {
			errCode = "ERROR"
		}
		_ = json.NewEncoder(o.w).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: errCode, Message: fmt.Sprintf("%s: %v", message, err)},
		})
	}
	return WrapExitError(code, message, err)
}
