package execution

import (
	"strings"
	"sync"

	copilot "github.com/github/copilot-sdk/go"
)

const sessionFailedUnknown = "session failed with unknown error"

// replyCollector accumulates the assistant's text from session events. Events can arrive from
// the SDK's reader goroutine, so access is locked.
type replyCollector struct {
	mu       sync.Mutex
	messages []string
	deltas   []string
	errorMsg string
	done     chan struct{}
}

func newReplyCollector() *replyCollector {
	return &replyCollector{done: make(chan struct{})}
}

// On is passed to [copilot.Session.On].
func (c *replyCollector) On(event copilot.SessionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case copilot.AssistantMessage:
		if event.Data.Content != nil {
			c.messages = append(c.messages, *event.Data.Content)
		}
	case copilot.AssistantMessageDelta:
		if event.Data.DeltaContent != nil {
			c.deltas = append(c.deltas, *event.Data.DeltaContent)
		} else if event.Data.Content != nil {
			c.deltas = append(c.deltas, *event.Data.Content)
		}
	// these are both termination events
	case copilot.SessionIdle, copilot.SessionError:
		if event.Type == copilot.SessionError {
			if event.Data.Message == nil || *event.Data.Message == "" {
				c.errorMsg = sessionFailedUnknown
			} else {
				c.errorMsg = *event.Data.Message
			}
		}

		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}

// Reply returns the full assistant text. Complete messages win over streamed deltas.
func (c *replyCollector) Reply() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) > 0 {
		return strings.Join(c.messages, "")
	}
	return strings.Join(c.deltas, "")
}

// ErrorMessage returns the session error, if any.
func (c *replyCollector) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMsg
}

// Done is closed once the session goes idle or fails.
func (c *replyCollector) Done() <-chan struct{} {
	return c.done
}
