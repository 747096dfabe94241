package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// EventInput represents the input for creating or updating a calendar event
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// Event is a simplified calendar event as returned to API clients.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Link        string   `json:"link,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// StartTime parses the event's start timestamp. All-day events carry a
// date-only value and parse as midnight UTC.
func (e Event) StartTime() (time.Time, error) {
	return parseEventTime(e.Start)
}

// EndTime parses the event's end timestamp.
func (e Event) EndTime() (time.Time, error) {
	return parseEventTime(e.End)
}

func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// toEvent converts a Google Calendar event to the API representation.
func toEvent(event *calendar.Event) Event {
	e := Event{
		ID:          event.Id,
		Title:       event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Link:        event.HtmlLink,
		Status:      event.Status,
	}

	if event.Start != nil {
		if event.Start.DateTime != "" {
			e.Start = event.Start.DateTime
		} else {
			e.Start = event.Start.Date
		}
	}
	if event.End != nil {
		if event.End.DateTime != "" {
			e.End = event.End.DateTime
		} else {
			e.End = event.End.Date
		}
	}

	for _, att := range event.Attendees {
		if att.Email != "" {
			e.Attendees = append(e.Attendees, att.Email)
		}
	}

	return e
}
