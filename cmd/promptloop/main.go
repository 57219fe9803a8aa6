package main

import (
	"errors"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"
)

// Exit codes for different failure modes
const (
	ExitSuccess    = 0 // Evaluation passed or improvement promoted
	ExitTestFailed = 1 // Entries failed, or the candidate was rejected with --fail-on-reject
	ExitError      = 2 // Configuration or runtime error
)

// TestFailureError indicates that the command ran to completion, but the
// result did not meet the bar.
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return e.Message
}

func main() {
	err := execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) //nolint:errcheck
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var testFailureErr *TestFailureError
	if errors.As(err, &testFailureErr) {
		return ExitTestFailed
	}
	return ExitError
}
