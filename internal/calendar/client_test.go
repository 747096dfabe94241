package calendar

import (
	"context"
	"testing"
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

func TestNewClientWithToken_EmptyToken(t *testing.T) {
	if _, err := NewClientWithToken(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestToEvent(t *testing.T) {
	src := &calendar.Event{
		Id:          "evt-1",
		Summary:     "Team sync",
		Description: "Weekly status",
		Location:    "Room 4",
		Status:      "confirmed",
		HtmlLink:    "https://calendar.google.com/event?eid=abc",
		Start:       &calendar.EventDateTime{DateTime: "2026-08-24T10:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2026-08-24T11:00:00Z"},
		Attendees: []*calendar.EventAttendee{
			{Email: "alice@example.com"},
			{Email: "bob@example.com"},
			{DisplayName: "Room 4"},
		},
	}

	e := toEvent(src)
	if e.ID != "evt-1" || e.Title != "Team sync" {
		t.Errorf("event = %+v", e)
	}
	if e.Start != "2026-08-24T10:00:00Z" || e.End != "2026-08-24T11:00:00Z" {
		t.Errorf("start/end = %q/%q", e.Start, e.End)
	}
	if e.Link == "" || e.Status != "confirmed" {
		t.Errorf("link/status = %q/%q", e.Link, e.Status)
	}
	if len(e.Attendees) != 2 {
		t.Errorf("attendees = %v, want the two with emails", e.Attendees)
	}
}

func TestToEvent_AllDay(t *testing.T) {
	src := &calendar.Event{
		Id:      "evt-2",
		Summary: "Company holiday",
		Start:   &calendar.EventDateTime{Date: "2026-12-24"},
		End:     &calendar.EventDateTime{Date: "2026-12-25"},
	}

	e := toEvent(src)
	if e.Start != "2026-12-24" || e.End != "2026-12-25" {
		t.Errorf("start/end = %q/%q", e.Start, e.End)
	}

	start, err := e.StartTime()
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	if !start.Equal(time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %v", start)
	}
}

func TestOverlaps(t *testing.T) {
	windowStart := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)

	event := func(start, end string) Event {
		return Event{Start: start, End: end}
	}

	tests := []struct {
		name string
		e    Event
		want bool
	}{
		{"fully inside", event("2026-08-24T10:15:00Z", "2026-08-24T10:45:00Z"), true},
		{"spans window", event("2026-08-24T09:00:00Z", "2026-08-24T12:00:00Z"), true},
		{"overlaps start", event("2026-08-24T09:30:00Z", "2026-08-24T10:30:00Z"), true},
		{"overlaps end", event("2026-08-24T10:30:00Z", "2026-08-24T11:30:00Z"), true},
		{"adjacent before", event("2026-08-24T09:00:00Z", "2026-08-24T10:00:00Z"), false},
		{"adjacent after", event("2026-08-24T11:00:00Z", "2026-08-24T12:00:00Z"), false},
		{"earlier same day", event("2026-08-24T07:00:00Z", "2026-08-24T08:00:00Z"), false},
		{"unparseable treated as conflict", event("not-a-time", "also-not"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.e, windowStart, windowEnd); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseEventTime(t *testing.T) {
	if _, err := parseEventTime("2026-08-24T10:00:00+02:00"); err != nil {
		t.Errorf("RFC3339 parse failed: %v", err)
	}
	if _, err := parseEventTime("2026-08-24"); err != nil {
		t.Errorf("date-only parse failed: %v", err)
	}
	if _, err := parseEventTime("yesterday"); err == nil {
		t.Error("expected error for unparseable time")
	}
}
