package agent

import (
	"context"
	"time"

	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/calendar"
	"github.com/vaultmind/vaultmind/internal/openai"
)

// Actions the agent reports having taken.
const (
	ActionModerationBlocked = "moderation_blocked"
	ActionGeneralResponse   = "general_response"
	ActionCalendarList      = "calendar_list"
	ActionCalendarCreate    = "calendar_create"
	ActionError             = "error"
)

// Intents the model is constrained to.
const (
	intentListCalendar = "list_calendar"
	intentCreateEvent  = "create_event"
	intentGeneral      = "general"
)

// Result is the agent's answer to one chat message.
type Result struct {
	Response  string
	Action    string
	Success   bool
	Event     *calendar.Event
	Events    []calendar.Event
	Conflicts []calendar.Event
}

// LLM is the language-model surface the agent needs.
type LLM interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatRequest) (string, error)
	CreateModeration(ctx context.Context, input string) (*openai.ModerationResult, error)
}

// GoogleTokenSource resolves a user's delegated Google access token from
// their verified claims. Empty means no token is available.
type GoogleTokenSource interface {
	GoogleToken(ctx context.Context, claims auth.Claims) string
}

// CalendarService is the calendar surface the agent uses.
type CalendarService interface {
	ListEvents(ctx context.Context, maxResults int64, timeMin time.Time) ([]calendar.Event, error)
	CreateEvent(ctx context.Context, input calendar.EventInput) (*calendar.Event, error)
	CheckConflicts(ctx context.Context, start, end time.Time) ([]calendar.Event, error)
}

// CalendarFactory builds a calendar client for a delegated access token.
type CalendarFactory func(ctx context.Context, accessToken string) (CalendarService, error)

// intentParameters are the slots the model fills for calendar intents.
type intentParameters struct {
	Title       string `json:"title"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
	QueryDate   string `json:"query_date"`
}

// intentResponse is the JSON object the model is instructed to return.
type intentResponse struct {
	Intent     string           `json:"intent"`
	Parameters intentParameters `json:"parameters"`
	Response   string           `json:"response"`
}

// MockListEvents is the demo data returned for list requests when no
// Google token is available.
func MockListEvents() []calendar.Event {
	return []calendar.Event{
		{Title: "Demo Event 1", Start: "2025-10-21T09:00:00Z"},
		{Title: "Demo Event 3", Start: "2025-10-21T14:00:00Z"},
	}
}
