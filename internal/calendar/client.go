package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/vaultmind/vaultmind/internal/instrumentation"
)

// primaryCalendar is the calendar all operations target. Users interact
// with their own primary calendar only.
const primaryCalendar = "primary"

// Client wraps the Google Calendar service for a single user, authorized
// by that user's delegated access token.
type Client struct {
	svc     *calendar.Service
	metrics *instrumentation.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMetrics enables per-operation metrics recording.
func WithMetrics(metrics *instrumentation.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClientWithToken creates a Calendar client from a bearer access token.
// The token is the user's delegated Google token resolved from Auth0; no
// refresh is attempted since the backend never holds a refresh token.
func NewClientWithToken(ctx context.Context, accessToken string, opts ...ClientOption) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	httpClient := oauth2.NewClient(ctx, tokenSource)

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	c := &Client{svc: svc}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListEvents lists upcoming events on the primary calendar, ordered by
// start time, beginning at timeMin.
func (c *Client) ListEvents(ctx context.Context, maxResults int64, timeMin time.Time) ([]Event, error) {
	start := time.Now()
	events, err := c.svc.Events.List(primaryCalendar).
		TimeMin(timeMin.Format(time.RFC3339)).
		MaxResults(maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	c.record(ctx, "list", err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	result := make([]Event, 0, len(events.Items))
	for _, event := range events.Items {
		result = append(result, toEvent(event))
	}
	return result, nil
}

// CreateEvent creates a new event on the primary calendar.
func (c *Client) CreateEvent(ctx context.Context, input EventInput) (*Event, error) {
	if input.TimeZone == "" {
		input.TimeZone = "UTC"
	}

	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start: &calendar.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: input.TimeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: input.TimeZone,
		},
	}

	if len(input.Attendees) > 0 {
		var attendees []*calendar.EventAttendee
		for _, email := range input.Attendees {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
		event.Attendees = attendees
	}

	start := time.Now()
	created, err := c.svc.Events.Insert(primaryCalendar, event).Context(ctx).Do()
	c.record(ctx, "create", err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	result := toEvent(created)
	return &result, nil
}

// UpdateEvent updates an existing event, preserving fields the input
// leaves empty.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, input EventInput) (*Event, error) {
	existing, err := c.svc.Events.Get(primaryCalendar, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get existing event: %w", err)
	}

	if input.Summary != "" {
		existing.Summary = input.Summary
	}
	if input.Description != "" {
		existing.Description = input.Description
	}
	if input.Location != "" {
		existing.Location = input.Location
	}

	if input.TimeZone == "" {
		input.TimeZone = "UTC"
	}
	if !input.Start.IsZero() {
		existing.Start = &calendar.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: input.TimeZone,
		}
	}
	if !input.End.IsZero() {
		existing.End = &calendar.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: input.TimeZone,
		}
	}

	if len(input.Attendees) > 0 {
		var attendees []*calendar.EventAttendee
		for _, email := range input.Attendees {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
		existing.Attendees = attendees
	}

	start := time.Now()
	updated, err := c.svc.Events.Update(primaryCalendar, eventID, existing).Context(ctx).Do()
	c.record(ctx, "update", err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	result := toEvent(updated)
	return &result, nil
}

// DeleteEvent deletes an event from the primary calendar.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	start := time.Now()
	err := c.svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do()
	c.record(ctx, "delete", err, start)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// CheckConflicts returns events on the primary calendar that overlap the
// [start, end) window.
func (c *Client) CheckConflicts(ctx context.Context, start, end time.Time) ([]Event, error) {
	began := time.Now()
	events, err := c.svc.Events.List(primaryCalendar).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	c.record(ctx, "check_conflicts", err, began)
	if err != nil {
		return nil, fmt.Errorf("failed to check conflicts: %w", err)
	}

	var conflicts []Event
	for _, item := range events.Items {
		e := toEvent(item)
		if Overlaps(e, start, end) {
			conflicts = append(conflicts, e)
		}
	}
	return conflicts, nil
}

// Overlaps reports whether the event's time range intersects [start, end).
// Events whose bounds fail to parse are treated as conflicting, erring on
// the side of warning the user.
func Overlaps(e Event, start, end time.Time) bool {
	evStart, err := e.StartTime()
	if err != nil {
		return true
	}
	evEnd, err := e.EndTime()
	if err != nil {
		return true
	}
	return evStart.Before(end) && evEnd.After(start)
}

func (c *Client) record(ctx context.Context, operation string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, operation, status, time.Since(start))
}
