package types

import "fmt"

// ConfigError signals a broken configuration: an invalid guardrail, an
// invalid check parameter or a malformed record. It is raised before any
// constraint runs.
type ConfigError struct {
	Op      string
	Subject string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Op
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
