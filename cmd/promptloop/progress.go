package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spboyer/promptloop/internal/orchestration"
	"github.com/spboyer/promptloop/internal/spinner"
	"golang.org/x/term"
)

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// progressListener prints one line per finished entry to w.
func progressListener(w io.Writer) orchestration.ProgressListener {
	return func(event orchestration.ProgressEvent) {
		switch event.EventType {
		case orchestration.EventRunStart:
			fmt.Fprintf(w, "Evaluating %s on %d entries...\n", event.TemplateRef, event.TotalEntries)
		case orchestration.EventEntryCached, orchestration.EventEntryComplete:
			status := "✓"
			if !event.Passed {
				status = "✗"
			}
			suffix := ""
			if event.EventType == orchestration.EventEntryCached {
				suffix = " [cached]"
			}
			fmt.Fprintf(w, "%s [%d/%d] %s%s\n", status, event.EntryNum, event.TotalEntries, event.EntryID, suffix)
		case orchestration.EventRunComplete:
			duration := time.Duration(event.DurationMs) * time.Millisecond
			fmt.Fprintf(w, "%s completed in %v\n\n", event.TemplateRef, duration.Round(time.Millisecond))
		}
	}
}

// spinnerListener keeps the spinner message on the run being evaluated.
func spinnerListener(s *spinner.Spinner) orchestration.ProgressListener {
	return func(event orchestration.ProgressEvent) {
		switch event.EventType {
		case orchestration.EventRunStart:
			s.Update(fmt.Sprintf("Evaluating %s (%d entries)", event.TemplateRef, event.TotalEntries))
		case orchestration.EventEntryComplete, orchestration.EventEntryCached:
			s.Update(fmt.Sprintf("Evaluating %s [%d/%d]", event.TemplateRef, event.EntryNum, event.TotalEntries))
		}
	}
}
