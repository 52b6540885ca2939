package cli

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/grovetools/wayshell/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to out
func NewErrorHandler(verbose bool, out io.Writer) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// Handle prints a message for err based on its code and returns err.
func (h *ErrorHandler) Handle(err error) error {
	var shellErr *errors.ShellError
	stderrors.As(err, &shellErr)
	detail := func(key string) interface{} {
		if shellErr == nil {
			return ""
		}
		return shellErr.Details[key]
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "❌ Configuration not found at %v\n", detail("path"))
		fmt.Fprintf(h.Out, "Run 'wayshell config show' to see where configuration is read from.\n")

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "❌ Invalid configuration: %v\n", err)
		fmt.Fprintf(h.Out, "Run 'wayshell config validate' for details.\n")

	case errors.ErrCodeTransport:
		fmt.Fprintf(h.Out, "❌ Cannot reach %v: is wayshell running?\n", detail("endpoint"))

	case errors.ErrCodeLockRecovery:
		fmt.Fprintf(h.Out, "❌ Could not become the primary instance or reach it after %v attempts\n", detail("attempts"))
		fmt.Fprintf(h.Out, "Check for a hung wayshell process holding %v\n", detail("path"))

	case errors.ErrCodeUnknownService:
		fmt.Fprintf(h.Out, "❌ Unknown service '%v'\n", detail("service"))
		fmt.Fprintf(h.Out, "Run 'wayshell status' to see available services.\n")

	case errors.ErrCodeUnknownField:
		fmt.Fprintf(h.Out, "❌ Service '%v' has no field '%v'\n", detail("service"), detail("field"))
		fmt.Fprintf(h.Out, "Run 'wayshell status' to see available fields.\n")

	case errors.ErrCodeInvalidCommand:
		fmt.Fprintf(h.Out, "❌ Invalid command for '%v': %v\n", detail("service"), err)

	default:
		fmt.Fprintf(h.Out, "❌ Error: %v\n", err)
	}

	if h.Verbose && shellErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", shellErr.ToJSON())
	}
	return err
}
