package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"CalChat/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   map[string]any
}

// fakeCal records requests and answers through the supplied handler.
type fakeCal struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeCal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  map[string]string{},
		Header: r.Header.Clone(),
	}
	for k := range r.URL.Query() {
		rec.Query[k] = r.URL.Query().Get(k)
	}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.respond(w, r)
}

func (f *fakeCal) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestClient(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeCal) {
	t.Helper()
	fake := &fakeCal{respond: respond}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := New(Options{APIKey: "cal_test_key", BaseURL: srv.URL + "/v2", DefaultEventTypeID: 7})
	require.NoError(t, err)
	return client, fake
}

func TestRequestsCarryAuthAndVersionHeaders(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","data":{"uid":"abc"}}`)
	})

	res, err := client.GetBooking(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, res.Failed())

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "/v2/bookings/abc", reqs[0].Path)
	assert.Equal(t, "Bearer cal_test_key", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, APIVersion, reqs[0].Header.Get("cal-api-version"))
	assert.Contains(t, reqs[0].Header.Get("Content-Type"), "application/json")
}

func TestListBookingsDefaults(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","data":[]}`)
	})

	_, err := client.ListBookings(context.Background(), ListBookingsParams{})
	require.NoError(t, err)

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]string{
		"status": "upcoming,unconfirmed",
		"take":   "100",
		"skip":   "0",
	}, reqs[0].Query)
}

func TestListBookingsFilters(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","data":[{"uid":"a"}]}`)
	})

	res, err := client.ListBookings(context.Background(), ListBookingsParams{
		AttendeeEmail: "jane@example.com",
		AfterStart:    "2026-10-20T00:00:00Z",
		BeforeEnd:     "2026-10-21T00:00:00Z",
		Status:        []string{"past", "cancelled"},
		Take:          10,
		Skip:          20,
	})
	require.NoError(t, err)
	assert.Len(t, res.Data(), 1)

	q := fake.recorded()[0].Query
	assert.Equal(t, "past,cancelled", q["status"])
	assert.Equal(t, "jane@example.com", q["attendeeEmail"])
	assert.Equal(t, "2026-10-20T00:00:00Z", q["afterStart"])
	assert.Equal(t, "2026-10-21T00:00:00Z", q["beforeEnd"])
	assert.Equal(t, "10", q["take"])
	assert.Equal(t, "20", q["skip"])
}

func TestCreateBookingPayload(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"status":"success","data":{"uid":"new-uid"}}`)
	})

	res, err := client.CreateBooking(context.Background(), CreateBookingParams{
		Start:            "2026-10-20T15:00:00Z",
		AttendeeName:     "Jane",
		AttendeeEmail:    "jane@example.com",
		AttendeeTimeZone: "Europe/Berlin",
		Guests:           []string{"bob@example.com"},
		LengthInMinutes:  45,
	})
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	body := fake.recorded()[0].Body
	assert.Equal(t, "2026-10-20T15:00:00Z", body["start"])
	assert.EqualValues(t, 7, body["eventTypeId"])
	assert.Equal(t, map[string]any{
		"language": "en",
		"name":     "Jane",
		"email":    "jane@example.com",
		"timeZone": "Europe/Berlin",
	}, body["attendee"])
	assert.Equal(t, map[string]any{"type": "integration", "integration": "cal-video"}, body["location"])
	assert.Equal(t, map[string]any{"notes": "Agentic schedule"}, body["bookingFieldsResponses"])
	assert.Equal(t, []any{"bob@example.com"}, body["guests"])
	assert.EqualValues(t, 45, body["lengthInMinutes"])
	assert.NotContains(t, body, "metadata")
}

func TestCancelAndReschedulePayloads(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","data":{}}`)
	})
	ctx := context.Background()

	_, err := client.CancelBooking(ctx, "u1", "")
	require.NoError(t, err)
	_, err = client.CancelBooking(ctx, "u2", "conflict")
	require.NoError(t, err)
	_, err = client.RescheduleBooking(ctx, "u3", "2026-10-22T09:00:00Z", "moved")
	require.NoError(t, err)

	reqs := fake.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/v2/bookings/u1/cancel", reqs[0].Path)
	assert.Empty(t, reqs[0].Body)
	assert.Equal(t, map[string]any{"cancellationReason": "conflict"}, reqs[1].Body)
	assert.Equal(t, "/v2/bookings/u3/reschedule", reqs[2].Path)
	assert.Equal(t, map[string]any{"start": "2026-10-22T09:00:00Z", "reschedulingReason": "moved"}, reqs[2].Body)
}

func TestErrorResponsesBecomeFailures(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/structured"):
			writeJSON(w, http.StatusNotFound, `{"status":"error","error":{"code":"NotFoundException","message":"Booking not found"}}`)
		case strings.HasSuffix(r.URL.Path, "/plain"):
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		default:
			writeJSON(w, http.StatusBadRequest, `{"status":"error","message":"bad"}`)
		}
	})
	ctx := context.Background()

	res, err := client.GetBooking(ctx, "structured")
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, map[string]any{"code": "NotFoundException", "message": "Booking not found"}, res.Error())

	res, err = client.GetBooking(ctx, "plain")
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, map[string]any{"code": http.StatusBadGateway, "message": "upstream down"}, res.Error())

	res, err = client.GetBooking(ctx, "other")
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "bad", res.Payload["message"])
	assert.NotNil(t, res.Error())
}

func TestTransportErrorsAreReturned(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := New(Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.GetBooking(context.Background(), "x")
	require.Error(t, err)
}

func TestResultMarshalsPayloadOnly(t *testing.T) {
	res := Result{StatusCode: 200, Payload: map[string]any{"status": "success"}}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(data))

	data, err = json.Marshal(Result{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestCancelAllBookingsReportsPartialFailure(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, `{"status":"success","data":[{"uid":"a"},{"uid":"b","status":"accepted"},{"title":"no uid"},{"uid":""}]}`)
		case r.URL.Path == "/v2/bookings/b/cancel":
			writeJSON(w, http.StatusBadRequest, `{"status":"error","error":{"message":"already cancelled"}}`)
		default:
			writeJSON(w, http.StatusOK, `{"status":"success","data":{}}`)
		}
	})

	summary, err := client.CancelAllBookings(context.Background(), "vacation")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CancelledCount)
	assert.Equal(t, []any{CancelFailure{
		BookingUID: "b",
		Error:      map[string]any{"message": "already cancelled"},
	}}, summary.Failures)
	assert.True(t, summary.Failed())

	reqs := fake.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, "upcoming,unconfirmed", reqs[0].Query["status"])
	assert.Equal(t, map[string]any{"cancellationReason": "vacation"}, reqs[1].Body)

	encoded, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cancelled_count":1,"failures":[{"booking_uid":"b","error":{"message":"already cancelled"}}]}`, string(encoded))
}

func TestCancelAllBookingsShortCircuitsOnFetchFailure(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"status":"error","error":{"message":"invalid key"}}`)
	})

	summary, err := client.CancelAllBookings(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, BulkCancelSummary{CancelledCount: 0, Failures: []any{"Failed to fetch bookings."}}, summary)

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
}

func TestCancelAllBookingsWithNothingActive(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","data":[]}`)
	})

	summary, err := client.CancelAllBookings(context.Background(), "")
	require.NoError(t, err)

	encoded, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cancelled_count":0,"failures":[]}`, string(encoded))
	assert.Len(t, fake.recorded(), 1)
}

// captureLogs returns a context whose request logger writes JSON lines to the
// returned buffer.
func captureLogs() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return telemetry.WithLogger(context.Background(), logger), &buf
}

func findLog(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("no log entry %q in:\n%s", msg, buf.String())
	return nil
}

func TestRequestsAreLoggedAroundTheCall(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"success","data":[]}`)
	})
	ctx, buf := captureLogs()

	_, err := client.ListBookings(ctx, ListBookingsParams{AttendeeEmail: "ada@example.com"})
	require.NoError(t, err)

	before := findLog(t, buf, "Making Cal.com API request")
	assert.Equal(t, "INFO", before["level"])
	assert.Equal(t, http.MethodGet, before["method"])
	assert.True(t, strings.HasSuffix(before["url"].(string), "/v2/bookings"), before["url"])
	params, ok := before["params"].(map[string]any)
	require.True(t, ok, "params should be logged as an object")
	assert.Equal(t, "ada@example.com", params["attendeeEmail"])
	assert.Equal(t, "upcoming,unconfirmed", params["status"])

	after := findLog(t, buf, "Received Cal.com API response")
	assert.Equal(t, "INFO", after["level"])
	assert.Equal(t, float64(http.StatusOK), after["status_code"])
	assert.NotContains(t, buf.String(), "Cal.com API request failed")
}

func TestFailedRequestsAreLoggedAsErrors(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"status":"error","error":{"message":"Booking not found"}}`)
	})
	ctx, buf := captureLogs()

	res, err := client.CancelBooking(ctx, "missing", "")
	require.NoError(t, err)
	require.True(t, res.Failed())

	after := findLog(t, buf, "Received Cal.com API response")
	assert.Equal(t, float64(http.StatusNotFound), after["status_code"])

	failed := findLog(t, buf, "Cal.com API request failed")
	assert.Equal(t, "ERROR", failed["level"])
	assert.Equal(t, float64(http.StatusNotFound), failed["status_code"])
	assert.Contains(t, failed["response_text"], "Booking not found")
}
