package calcom

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Result is the uniform outcome of a Cal.com call. A failure carries a non-2xx
// status and a payload with an "error" key; check Failed before trusting Data.
type Result struct {
	StatusCode int
	Payload    map[string]any
}

func (r Result) Failed() bool {
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return true
	}
	_, ok := r.Payload["error"]
	return ok
}

// Data returns the "data" member of a successful payload.
func (r Result) Data() any {
	return r.Payload["data"]
}

// Error returns the "error" member of a failed payload.
func (r Result) Error() any {
	return r.Payload["error"]
}

// MarshalJSON renders the payload alone, which is what the agent sees.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Payload)
}

// failureResult normalizes an error response so the payload always carries "error".
func failureResult(status int, body []byte) Result {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		payload = map[string]any{"status": "error"}
	}
	if _, ok := payload["error"]; !ok {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(status)
		}
		payload["error"] = map[string]any{
			"code":    status,
			"message": message,
		}
	}
	return Result{StatusCode: status, Payload: payload}
}

// BulkCancelSummary reports a cancel-all run. Failures hold CancelFailure
// values, or the single fetch-failure message.
type BulkCancelSummary struct {
	CancelledCount int   `json:"cancelled_count"`
	Failures       []any `json:"failures"`
}

// Failed reports whether any cancellation did not go through.
func (s BulkCancelSummary) Failed() bool {
	return len(s.Failures) > 0
}

type CancelFailure struct {
	BookingUID string `json:"booking_uid"`
	Error      any    `json:"error"`
}
