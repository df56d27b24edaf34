// Package report defines the heartbeat wire messages exchanged with the probe server.
package report

import "fmt"

// Actions understood by the probe server.
const (
	ActionRegister  = "register"
	ActionHeartbeat = "heartbeat"
)

// StatusOK is the application status the server returns on success.
const StatusOK = 200

// Message is the JSON object POSTed to the server. Body carries a
// JSON-encoded document as a string: the register data for ActionRegister,
// the statistics snapshot for ActionHeartbeat when statistics are enabled.
type Message struct {
	Version string `json:"version"`
	Action  string `json:"action"`
	UUID    string `json:"uuid"`
	Body    string `json:"body,omitempty"`
}

// Response is the JSON object the server answers with.
type Response struct {
	Status    int64   `json:"status"`
	ErrorCode *int64  `json:"error_code,omitempty"`
	Message   *string `json:"message,omitempty"`
}

// Err returns nil for a successful response and a *ResponseError otherwise.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	e := &ResponseError{Code: r.Status}
	if r.ErrorCode != nil {
		e.Code = *r.ErrorCode
	}
	if r.Message != nil {
		e.Message = *r.Message
	}
	return e
}

// ResponseError is an application-level rejection reported by the server.
type ResponseError struct {
	Code    int64
	Message string
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "(No description)"
	}
	return fmt.Sprintf("server rejected report: %d %s", e.Code, msg)
}
