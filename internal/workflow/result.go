package workflow

import "fmt"

// Severity grades a guard message. Only error blocks a transition;
// warning and info are advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Message is one itemized precondition check outcome.
type Message struct {
	Severity Severity `json:"severity" enum:"error,warning,info"`
	Text     string   `json:"text"`
}

// Result is the outcome of a CanTransition check. It is returned by value;
// how (or whether) the messages surface is the caller's decision.
type Result struct {
	Allowed  bool      `json:"allowed"`
	Messages []Message `json:"messages,omitempty"`
}

func errorf(format string, args ...any) Message {
	return Message{Severity: SeverityError, Text: fmt.Sprintf(format, args...)}
}

func warnf(format string, args ...any) Message {
	return Message{Severity: SeverityWarning, Text: fmt.Sprintf(format, args...)}
}

func infof(format string, args ...any) Message {
	return Message{Severity: SeverityInfo, Text: fmt.Sprintf(format, args...)}
}

func resultFrom(msgs []Message) Result {
	r := Result{Allowed: true, Messages: msgs}
	for _, m := range msgs {
		if m.Severity == SeverityError {
			r.Allowed = false
			break
		}
	}
	return r
}

func denied(msgs ...Message) Result {
	return Result{Allowed: false, Messages: msgs}
}
