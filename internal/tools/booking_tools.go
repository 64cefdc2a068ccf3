package tools

import (
	"context"
	"fmt"

	"CalChat/internal/calcom"
	"CalChat/internal/schema"
)

// Booking tool names. The agent correlates tool calls by these.
const (
	CreateBooking     = "create_booking"
	GetBookings       = "get_bookings"
	CancelBooking     = "cancel_booking"
	RescheduleBooking = "reschedule_booking"
	CancelAllBookings = "cancel_all_bookings"
)

// BookingClient is the subset of the Cal.com client exposed as tools.
type BookingClient interface {
	CreateBooking(ctx context.Context, p calcom.CreateBookingParams) (calcom.Result, error)
	ListBookings(ctx context.Context, p calcom.ListBookingsParams) (calcom.Result, error)
	CancelBooking(ctx context.Context, uid, reason string) (calcom.Result, error)
	RescheduleBooking(ctx context.Context, uid, start, reason string) (calcom.Result, error)
	CancelAllBookings(ctx context.Context, reason string) (calcom.BulkCancelSummary, error)
}

var (
	createBookingSchema = schema.MustNew(CreateBooking, "Creates a new booking on Cal.com.",
		schema.Param{Name: "start", Kind: schema.String, Required: true, Description: "The start time in ISO 8601 format (UTC)."},
		schema.Param{Name: "attendee_name", Kind: schema.String, Required: true, Description: "The name of the person booking the event."},
		schema.Param{Name: "attendee_email", Kind: schema.String, Required: true, Description: "The email of the person booking the event."},
		schema.Param{Name: "attendee_timezone", Kind: schema.String, Required: true, Description: "The IANA time zone of the attendee."},
		schema.Param{Name: "logger", Kind: schema.Object, Required: true},
		schema.Param{Name: "guests", Kind: schema.StringList, Description: "An optional list of guest emails."},
		schema.Param{Name: "metadata", Kind: schema.Object, Description: "Optional metadata for the booking."},
		schema.Param{Name: "length_in_minutes", Kind: schema.Integer, Description: "Optional duration for variable length events."},
	)

	getBookingsSchema = schema.MustNew(GetBookings, "Fetches a list of bookings, with optional filters and pagination.",
		schema.Param{Name: "logger", Kind: schema.Object, Required: true},
		schema.Param{Name: "attendee_email", Kind: schema.String, Description: "Filter bookings by the attendee's email address."},
		schema.Param{Name: "after_start", Kind: schema.String, Description: "Filter for bookings starting after this ISO 8601 date."},
		schema.Param{Name: "before_end", Kind: schema.String, Description: "Filter for bookings ending before this ISO 8601 date."},
		schema.Param{Name: "status", Kind: schema.StringList, Description: "Filter bookings by status (e.g., ['accepted', 'pending'])."},
		schema.Param{Name: "take", Kind: schema.Integer, Default: calcom.DefaultTake, Description: "The number of items to return."},
		schema.Param{Name: "skip", Kind: schema.Integer, Default: 0, Description: "The number of items to skip for pagination."},
	)

	cancelBookingSchema = schema.MustNew(CancelBooking, "Cancels a booking by its UID.",
		schema.Param{Name: "booking_uid", Kind: schema.String, Required: true, Description: "The unique identifier (UID) of the booking to cancel."},
		schema.Param{Name: "logger", Kind: schema.Object, Required: true},
		schema.Param{Name: "reason", Kind: schema.String, Description: "An optional reason for the cancellation."},
	)

	rescheduleBookingSchema = schema.MustNew(RescheduleBooking, "Reschedules a booking to a new start time.",
		schema.Param{Name: "booking_uid", Kind: schema.String, Required: true, Description: "The unique identifier of the booking to reschedule."},
		schema.Param{Name: "start", Kind: schema.String, Required: true, Description: "The new start time in ISO 8601 format (UTC)."},
		schema.Param{Name: "logger", Kind: schema.Object, Required: true},
		schema.Param{Name: "reason", Kind: schema.String, Description: "An optional reason for the reschedule."},
	)

	cancelAllBookingsSchema = schema.MustNew(CancelAllBookings, "Fetches and cancels all active (accepted or pending) bookings.",
		schema.Param{Name: "logger", Kind: schema.Object, Required: true},
		schema.Param{Name: "reason", Kind: schema.String, Description: "An optional reason for the cancellation."},
	)
)

// NewBookingRegistry registers the booking operations the agent is allowed to
// call. GetBooking stays off the list.
func NewBookingRegistry(client BookingClient) (*Registry, error) {
	registry := NewRegistry()
	for _, tool := range bookingTools(client) {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to build booking registry: %w", err)
		}
	}
	return registry, nil
}

func bookingTools(client BookingClient) []Tool {
	return []Tool{
		{
			Schema: createBookingSchema,
			Handler: func(ctx context.Context, args schema.Args) (any, error) {
				return client.CreateBooking(ctx, calcom.CreateBookingParams{
					Start:            args.String("start"),
					AttendeeName:     args.String("attendee_name"),
					AttendeeEmail:    args.String("attendee_email"),
					AttendeeTimeZone: args.String("attendee_timezone"),
					Guests:           args.Strings("guests"),
					Metadata:         args.Object("metadata"),
					LengthInMinutes:  args.Int("length_in_minutes"),
				})
			},
		},
		{
			Schema: getBookingsSchema,
			Handler: func(ctx context.Context, args schema.Args) (any, error) {
				return client.ListBookings(ctx, calcom.ListBookingsParams{
					AttendeeEmail: args.String("attendee_email"),
					AfterStart:    args.String("after_start"),
					BeforeEnd:     args.String("before_end"),
					Status:        args.Strings("status"),
					Take:          args.Int("take"),
					Skip:          args.Int("skip"),
				})
			},
		},
		{
			Schema: cancelBookingSchema,
			Handler: func(ctx context.Context, args schema.Args) (any, error) {
				return client.CancelBooking(ctx, args.String("booking_uid"), args.String("reason"))
			},
		},
		{
			Schema: rescheduleBookingSchema,
			Handler: func(ctx context.Context, args schema.Args) (any, error) {
				return client.RescheduleBooking(ctx, args.String("booking_uid"), args.String("start"), args.String("reason"))
			},
		},
		{
			Schema: cancelAllBookingsSchema,
			Handler: func(ctx context.Context, args schema.Args) (any, error) {
				return client.CancelAllBookings(ctx, args.String("reason"))
			},
		},
	}
}
