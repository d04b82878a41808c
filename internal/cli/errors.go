package cli

import "fmt"

// CommandError carries a user-facing message, an optional hint and the exit
// code for a failed command.
type CommandError struct {
	Message    string
	Cause      error
	Suggestion string
	ExitCode   int
}

func (e CommandError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "command failed"
}

func (e CommandError) Unwrap() error { return e.Cause }

// ExitStatus returns the process exit code, 1 when unset.
func (e CommandError) ExitStatus() int {
	if e.ExitCode != 0 {
		return e.ExitCode
	}
	return 1
}

func wrapError(message string, cause error, suggestion string, exitCode int) error {
	if cause != nil && message == "" {
		message = cause.Error()
	}
	return CommandError{Message: message, Cause: cause, Suggestion: suggestion, ExitCode: exitCode}
}

func formatSuggestion(hint string) string {
	if hint == "" {
		return ""
	}
	return fmt.Sprintf("hint: %s", hint)
}
