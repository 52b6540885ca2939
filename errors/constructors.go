package errors

import (
	"fmt"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *ShellError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *ShellError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// Transport creates a socket-level error for the given endpoint.
func Transport(endpoint string, err error) *ShellError {
	return Wrap(err, ErrCodeTransport, fmt.Sprintf("transport error on %s", endpoint)).
		WithDetail("endpoint", endpoint)
}

// Protocol creates an error for a malformed or unexpected reply.
func Protocol(backend, reason string) *ShellError {
	return New(ErrCodeProtocol, fmt.Sprintf("%s protocol error: %s", backend, reason)).
		WithDetail("backend", backend)
}

// CommandFailed creates an error for a command the compositor rejected.
func CommandFailed(backend, command, reply string) *ShellError {
	return New(ErrCodeCommandFailed, fmt.Sprintf("%s rejected %q: %s", backend, command, reply)).
		WithDetail("backend", backend).
		WithDetail("command", command)
}

// CommandUnsupported creates an error for a command a backend cannot express.
func CommandUnsupported(backend, command string) *ShellError {
	return New(ErrCodeCommandUnsupported, fmt.Sprintf("%s not supported by %s backend", command, backend)).
		WithDetail("backend", backend).
		WithDetail("command", command)
}

// LockRecovery creates the fatal error raised when neither the instance lock
// nor the running primary can be reached.
func LockRecovery(path string, attempts int, cause error) *ShellError {
	return Wrap(cause, ErrCodeLockRecovery,
		fmt.Sprintf("could not become primary or reach the running instance after %d attempts", attempts)).
		WithDetail("path", path).
		WithDetail("attempts", attempts)
}

// UnknownService creates a service not found error
func UnknownService(service string) *ShellError {
	return New(ErrCodeUnknownService, fmt.Sprintf("service '%s' not found", service)).
		WithDetail("service", service)
}

// UnknownField creates an error for a field a service does not expose.
func UnknownField(service, field string) *ShellError {
	return New(ErrCodeUnknownField, fmt.Sprintf("service '%s' has no field '%s'", service, field)).
		WithDetail("service", service).
		WithDetail("field", field)
}

// InvalidCommand creates an error for a command that does not belong to the service.
func InvalidCommand(service string, reason string) *ShellError {
	return New(ErrCodeInvalidCommand, fmt.Sprintf("invalid command for '%s': %s", service, reason)).
		WithDetail("service", service)
}

// LockHeld creates the error returned when another process owns the instance lock.
func LockHeld(path string, pid int) *ShellError {
	return New(ErrCodeLockHeld, fmt.Sprintf("instance lock %s is held by pid %d", path, pid)).
		WithDetail("path", path).
		WithDetail("pid", pid)
}
