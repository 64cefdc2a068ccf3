// Package calcom is a thin client for the Cal.com v2 bookings API.
//
// Calls never turn an error response into a Go error: the parsed body comes
// back as a failed Result. Go errors mean the request never completed.
package calcom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CalChat/internal/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://api.cal.com/v2"
	APIVersion     = "2024-08-13"
	DefaultTimeout = 30 * time.Second
)

// Options configure a Client.
type Options struct {
	APIKey             string
	BaseURL            string
	DefaultEventTypeID int64
	Timeout            time.Duration
	HTTPClient         *http.Client // optional transport override
	Tracer             trace.Tracer
	Meter              metric.Meter
}

// Client performs authenticated calls against the Cal.com API.
type Client struct {
	http               *resty.Client
	baseURL            string
	defaultEventTypeID int64
	tracer             trace.Tracer
	duration           metric.Float64Histogram
}

// New creates a Cal.com client.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	eventTypeID := opts.DefaultEventTypeID
	if eventTypeID <= 0 {
		eventTypeID = 1
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(opts.APIKey).
		SetHeader("cal-api-version", APIVersion).
		SetHeader("Content-Type", "application/json")

	histogram, err := telemetry.Meter(opts.Meter).Float64Histogram(
		"calcom.request.duration",
		metric.WithDescription("Cal.com request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Client{
		http:               rc,
		baseURL:            baseURL,
		defaultEventTypeID: eventTypeID,
		tracer:             telemetry.Tracer(opts.Tracer),
		duration:           histogram,
	}, nil
}

type request struct {
	method   string
	endpoint string
	params   map[string]string
	body     any
}

// do makes an authenticated request and folds the response into a Result.
func (c *Client) do(ctx context.Context, req request) (Result, error) {
	logger := telemetry.Logger(ctx)
	url := c.baseURL + "/" + req.endpoint

	ctx, span := c.tracer.Start(ctx, "calcom "+req.method+" "+req.endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("http.url", url),
		),
	)
	defer span.End()

	logger.Info("Making Cal.com API request",
		"method", req.method,
		"url", url,
		"params", req.params,
	)

	r := c.http.R().SetContext(ctx)
	if len(req.params) > 0 {
		r.SetQueryParams(req.params)
	}
	if req.body != nil {
		r.SetBody(req.body)
	}

	start := time.Now()
	resp, err := r.Execute(req.method, req.endpoint)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.duration.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("method", req.method),
			attribute.String("status", "transport_error"),
		))
		return Result{}, fmt.Errorf("failed to send Cal.com request %s %s: %w", req.method, url, err)
	}

	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))
	c.duration.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("method", req.method),
		attribute.String("status", strconv.Itoa(status)),
	))

	logger.Info("Received Cal.com API response", "status_code", status)

	if !resp.IsSuccess() {
		logger.Error("Cal.com API request failed",
			"status_code", status,
			"response_text", resp.String(),
		)
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
		return failureResult(status, resp.Body()), nil
	}

	payload := map[string]any{}
	if body := resp.Body(); len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return Result{}, fmt.Errorf("failed to decode Cal.com response from %s: %w", url, err)
		}
	}
	return Result{StatusCode: status, Payload: payload}, nil
}
