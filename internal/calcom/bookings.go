package calcom

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"CalChat/internal/telemetry"
)

const (
	DefaultTake = 100

	fetchFailureMessage = "Failed to fetch bookings."
)

// ActiveStatuses are the booking statuses listed when no filter is given.
var ActiveStatuses = []string{"upcoming", "unconfirmed"}

// CreateBookingParams describe a new booking for the configured event type.
type CreateBookingParams struct {
	Start            string // ISO 8601, UTC
	AttendeeName     string
	AttendeeEmail    string
	AttendeeTimeZone string // IANA name
	Guests           []string
	Metadata         map[string]any
	LengthInMinutes  int // only for variable-length event types
}

// ListBookingsParams filter and paginate a booking listing. Zero values mean
// "no filter", except Take, which falls back to DefaultTake.
type ListBookingsParams struct {
	AttendeeEmail string
	AfterStart    string
	BeforeEnd     string
	Status        []string
	Take          int
	Skip          int
}

func (p ListBookingsParams) query() map[string]string {
	take := p.Take
	if take <= 0 {
		take = DefaultTake
	}
	skip := p.Skip
	if skip < 0 {
		skip = 0
	}

	params := map[string]string{
		"take": strconv.Itoa(take),
		"skip": strconv.Itoa(skip),
	}
	if p.AttendeeEmail != "" {
		params["attendeeEmail"] = p.AttendeeEmail
	}
	if p.AfterStart != "" {
		params["afterStart"] = p.AfterStart
	}
	if p.BeforeEnd != "" {
		params["beforeEnd"] = p.BeforeEnd
	}
	status := p.Status
	if len(status) == 0 {
		status = ActiveStatuses
	}
	params["status"] = strings.Join(status, ",")
	return params
}

// CreateBooking creates a new booking on Cal.com.
func (c *Client) CreateBooking(ctx context.Context, p CreateBookingParams) (Result, error) {
	logger := telemetry.Logger(ctx)

	payload := map[string]any{
		"start":       p.Start,
		"eventTypeId": c.defaultEventTypeID,
		"attendee": map[string]any{
			"language": "en",
			"name":     p.AttendeeName,
			"email":    p.AttendeeEmail,
			"timeZone": p.AttendeeTimeZone,
		},
		"location": map[string]any{
			"type":        "integration",
			"integration": "cal-video",
		},
		"bookingFieldsResponses": map[string]any{
			"notes": "Agentic schedule",
		},
	}
	if len(p.Guests) > 0 {
		payload["guests"] = p.Guests
	}
	if len(p.Metadata) > 0 {
		payload["metadata"] = p.Metadata
	}
	if p.LengthInMinutes > 0 {
		payload["lengthInMinutes"] = p.LengthInMinutes
	}

	logger.Info("Creating Cal.com booking", "payload", payload)
	res, err := c.do(ctx, request{method: http.MethodPost, endpoint: "bookings", body: payload})
	if err != nil || res.Failed() {
		return res, err
	}

	var uid any
	if data, ok := res.Data().(map[string]any); ok {
		uid = data["uid"]
	}
	logger.Info("Successfully created booking", "booking_uid", uid)
	return res, nil
}

// ListBookings fetches bookings, with optional filters and pagination.
func (c *Client) ListBookings(ctx context.Context, p ListBookingsParams) (Result, error) {
	logger := telemetry.Logger(ctx)
	params := p.query()

	logger.Info("Fetching Cal.com bookings", "params", params)
	res, err := c.do(ctx, request{method: http.MethodGet, endpoint: "bookings", params: params})
	if err != nil || res.Failed() {
		return res, err
	}

	list, _ := res.Data().([]any)
	logger.Info("Successfully fetched bookings", "count", len(list))
	return res, nil
}

// GetBooking fetches a single booking by its UID.
func (c *Client) GetBooking(ctx context.Context, uid string) (Result, error) {
	logger := telemetry.Logger(ctx)

	logger.Info("Fetching Cal.com booking by UID", "booking_uid", uid)
	res, err := c.do(ctx, request{method: http.MethodGet, endpoint: "bookings/" + url.PathEscape(uid)})
	if err != nil || res.Failed() {
		return res, err
	}

	logger.Info("Successfully fetched single booking", "booking_uid", uid)
	return res, nil
}

// CancelBooking cancels a booking by its UID.
func (c *Client) CancelBooking(ctx context.Context, uid, reason string) (Result, error) {
	logger := telemetry.Logger(ctx)

	payload := map[string]any{}
	if reason != "" {
		payload["cancellationReason"] = reason
	}

	logger.Info("Cancelling Cal.com booking", "booking_uid", uid, "reason", reason)
	res, err := c.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "bookings/" + url.PathEscape(uid) + "/cancel",
		body:     payload,
	})
	if err != nil || res.Failed() {
		return res, err
	}

	logger.Info("Successfully cancelled booking", "booking_uid", uid)
	return res, nil
}

// RescheduleBooking moves a booking to a new start time.
func (c *Client) RescheduleBooking(ctx context.Context, uid, start, reason string) (Result, error) {
	logger := telemetry.Logger(ctx)

	payload := map[string]any{"start": start}
	if reason != "" {
		payload["reschedulingReason"] = reason
	}

	logger.Info("Rescheduling Cal.com booking", "booking_uid", uid, "payload", payload)
	res, err := c.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "bookings/" + url.PathEscape(uid) + "/reschedule",
		body:     payload,
	})
	if err != nil || res.Failed() {
		return res, err
	}

	logger.Info("Successfully rescheduled booking", "booking_uid", uid)
	return res, nil
}

// CancelAllBookings fetches every active booking and cancels them one by one.
// If the fetch fails nothing is cancelled. Bookings without a uid are skipped.
func (c *Client) CancelAllBookings(ctx context.Context, reason string) (BulkCancelSummary, error) {
	logger := telemetry.Logger(ctx)

	logger.Info("Starting to cancel all active bookings.")
	active, err := c.ListBookings(ctx, ListBookingsParams{Status: ActiveStatuses})
	if err != nil {
		return BulkCancelSummary{}, err
	}
	if active.Failed() {
		logger.Error("Failed to fetch active bookings to cancel.", "error", active.Error())
		return BulkCancelSummary{CancelledCount: 0, Failures: []any{fetchFailureMessage}}, nil
	}

	summary := BulkCancelSummary{Failures: []any{}}
	bookings, _ := active.Data().([]any)
	if len(bookings) == 0 {
		logger.Info("No active bookings found to cancel.")
		return summary, nil
	}

	for _, item := range bookings {
		booking, _ := item.(map[string]any)
		uid, _ := booking["uid"].(string)
		if uid == "" {
			continue
		}

		logger.Info("Cancelling booking as part of bulk operation", "booking_uid", uid)
		res, err := c.CancelBooking(ctx, uid, reason)
		if err != nil {
			return summary, err
		}
		if res.Failed() {
			failure := CancelFailure{BookingUID: uid, Error: res.Error()}
			summary.Failures = append(summary.Failures, failure)
			logger.Error("Failed during bulk cancellation.", "booking_uid", uid, "error", failure.Error)
			continue
		}
		summary.CancelledCount++
	}

	logger.Info("Finished bulk cancellation.",
		"cancelled_count", summary.CancelledCount,
		"failures", len(summary.Failures),
	)
	return summary, nil
}
