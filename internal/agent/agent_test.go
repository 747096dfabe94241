package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vaultmind/vaultmind/internal/audit"
	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/calendar"
	"github.com/vaultmind/vaultmind/internal/openai"
)

type fakeLLM struct {
	moderation    *openai.ModerationResult
	moderationErr error
	completion    string
	completionErr error
	lastRequest   openai.ChatRequest
}

func (f *fakeLLM) CreateChatCompletion(ctx context.Context, req openai.ChatRequest) (string, error) {
	f.lastRequest = req
	return f.completion, f.completionErr
}

func (f *fakeLLM) CreateModeration(ctx context.Context, input string) (*openai.ModerationResult, error) {
	if f.moderationErr != nil {
		return nil, f.moderationErr
	}
	if f.moderation != nil {
		return f.moderation, nil
	}
	return &openai.ModerationResult{}, nil
}

type fakeTokens struct {
	token string
}

func (f *fakeTokens) GoogleToken(ctx context.Context, claims auth.Claims) string {
	return f.token
}

type fakeCalendar struct {
	events     []calendar.Event
	listErr    error
	created    *calendar.Event
	createErr  error
	conflicts  []calendar.Event
	lastInput  calendar.EventInput
	listCalled bool
}

func (f *fakeCalendar) ListEvents(ctx context.Context, maxResults int64, timeMin time.Time) ([]calendar.Event, error) {
	f.listCalled = true
	return f.events, f.listErr
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, input calendar.EventInput) (*calendar.Event, error) {
	f.lastInput = input
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.created != nil {
		return f.created, nil
	}
	return &calendar.Event{ID: "created-1", Title: input.Summary}, nil
}

func (f *fakeCalendar) CheckConflicts(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	return f.conflicts, nil
}

func intentJSON(t *testing.T, intent string, params intentParameters, response string) string {
	t.Helper()
	b, err := json.Marshal(intentResponse{Intent: intent, Parameters: params, Response: response})
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return string(b)
}

func newTestAgent(llm LLM, tokens GoogleTokenSource, cal *fakeCalendar) (*Agent, *audit.Store) {
	store := audit.NewStore()
	factory := func(ctx context.Context, token string) (CalendarService, error) {
		return cal, nil
	}
	a := New(llm, tokens, store, factory, WithClock(func() time.Time {
		return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	}))
	return a, store
}

func TestProcessMessage_ModerationBlocks(t *testing.T) {
	llm := &fakeLLM{moderation: &openai.ModerationResult{Flagged: true, Categories: []string{"violence"}}}
	a, store := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "hostile text", "user-1", auth.Claims{}, "UTC")

	if result.Action != ActionModerationBlocked {
		t.Errorf("action = %q", result.Action)
	}
	if result.Success {
		t.Error("expected success=false")
	}
	if !strings.Contains(result.Response, "cannot process that request") {
		t.Errorf("response = %q", result.Response)
	}
	entries := store.ForUser("user-1")
	if len(entries) != 1 || entries[0].Action != audit.ActionModerationBlocked {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestProcessMessage_ModerationFailsOpen(t *testing.T) {
	llm := &fakeLLM{
		moderationErr: errors.New("moderation down"),
		completion:    intentJSON(t, intentGeneral, intentParameters{}, "Happy to help with your calendar."),
	}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "hello", "user-1", auth.Claims{}, "UTC")

	if result.Action != ActionGeneralResponse || !result.Success {
		t.Errorf("result = %+v, want general response despite moderation failure", result)
	}
}

func TestProcessMessage_GeneralIntent(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentGeneral, intentParameters{}, "Hello there!")}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "hi", "user-1", auth.Claims{}, "UTC")

	if result.Response != "Hello there!" || result.Action != ActionGeneralResponse || !result.Success {
		t.Errorf("result = %+v", result)
	}
}

func TestProcessMessage_ListWithToken(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{ID: "e1", Title: "Standup", Start: "2026-08-24T09:00:00Z", End: "2026-08-24T09:15:00Z"},
		{ID: "e2", Title: "Review", Start: "2026-08-24T15:00:00Z", End: "2026-08-24T16:00:00Z"},
	}}
	llm := &fakeLLM{completion: intentJSON(t, intentListCalendar, intentParameters{}, "Here you go")}
	a, store := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, cal)

	result := a.ProcessMessage(context.Background(), "what's on my calendar?", "user-1", auth.Claims{}, "UTC")

	if !result.Success || result.Action != ActionCalendarList {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Events) != 2 {
		t.Errorf("events = %d, want 2", len(result.Events))
	}
	if !strings.Contains(result.Response, "Retrieved 2 upcoming events") {
		t.Errorf("response = %q", result.Response)
	}
	entries := store.ForUser("user-1")
	if len(entries) != 1 || entries[0].Details["real_data"] != true {
		t.Errorf("audit = %+v", entries)
	}
}

func TestProcessMessage_ListFiltersByWindow(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{ID: "e1", Title: "Morning", Start: "2026-08-24T09:00:00Z"},
		{ID: "e2", Title: "Afternoon", Start: "2026-08-24T15:00:00Z"},
		{ID: "e3", Title: "Next day", Start: "2026-08-25T09:00:00Z"},
	}}
	llm := &fakeLLM{completion: intentJSON(t, intentListCalendar, intentParameters{
		StartTime: "2026-08-24T14:00:00Z",
		EndTime:   "2026-08-24T17:00:00Z",
	}, "")}
	a, _ := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, cal)

	result := a.ProcessMessage(context.Background(), "am I free this afternoon?", "user-1", auth.Claims{}, "UTC")

	if len(result.Events) != 1 || result.Events[0].Title != "Afternoon" {
		t.Errorf("events = %+v", result.Events)
	}
}

func TestProcessMessage_ListNoToken(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentListCalendar, intentParameters{}, "")}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "show my calendar", "user-1", auth.Claims{}, "UTC")

	if !result.Success || len(result.Events) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Response, "mock data") {
		t.Errorf("response = %q", result.Response)
	}
}

func TestProcessMessage_ListEmpty(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentListCalendar, intentParameters{}, "")}
	a, _ := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "show my calendar", "user-1", auth.Claims{}, "UTC")

	if result.Response != "📅 You have no upcoming calendar events." {
		t.Errorf("response = %q", result.Response)
	}
}

func TestProcessMessage_CreateMissingTimes(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentCreateEvent, intentParameters{Title: "Lunch"}, "")}
	a, _ := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "schedule lunch", "user-1", auth.Claims{}, "UTC")

	if result.Success || result.Action != ActionCalendarCreate {
		t.Errorf("result = %+v", result)
	}
	if !strings.Contains(result.Response, "more information") {
		t.Errorf("response = %q", result.Response)
	}
}

func TestProcessMessage_CreatePreviewWithoutToken(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentCreateEvent, intentParameters{
		Title:     "Lunch",
		StartTime: "2026-08-24T12:00:00Z",
		EndTime:   "2026-08-24T13:00:00Z",
	}, "")}
	a, store := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "schedule lunch tomorrow", "user-1", auth.Claims{}, "UTC")

	if !result.Success || !strings.Contains(result.Response, "Preview") {
		t.Errorf("result = %+v", result)
	}
	entries := store.ForUser("user-1")
	if len(entries) != 1 || entries[0].Action != audit.ActionCalendarCreateAttempt {
		t.Errorf("audit = %+v", entries)
	}
}

func TestProcessMessage_CreateNoConflicts(t *testing.T) {
	cal := &fakeCalendar{}
	llm := &fakeLLM{completion: intentJSON(t, intentCreateEvent, intentParameters{
		Title:       "Design review",
		StartTime:   "2026-08-24T15:00:00+02:00",
		EndTime:     "2026-08-24T16:00:00+02:00",
		Description: "Quarterly design review",
	}, "")}
	a, store := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, cal)

	result := a.ProcessMessage(context.Background(), "schedule a design review", "user-1", auth.Claims{}, "Europe/Berlin")

	if !result.Success || result.Event == nil {
		t.Fatalf("result = %+v", result)
	}
	if strings.Contains(result.Response, "Conflict") {
		t.Errorf("unexpected conflict warning: %q", result.Response)
	}
	if cal.lastInput.Summary != "Design review" || cal.lastInput.TimeZone != "Europe/Berlin" {
		t.Errorf("input = %+v", cal.lastInput)
	}
	entries := store.ForUser("user-1")
	if len(entries) != 1 || entries[0].Action != audit.ActionCalendarCreate {
		t.Errorf("audit = %+v", entries)
	}
	if entries[0].Details["had_conflicts"] != false {
		t.Errorf("had_conflicts = %v", entries[0].Details["had_conflicts"])
	}
}

func TestProcessMessage_CreateWithConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts []calendar.Event
		want      string
	}{
		{
			name:      "single conflict by name",
			conflicts: []calendar.Event{{Title: "Standup"}},
			want:      "You already have 'Standup' scheduled at this time.",
		},
		{
			name: "few conflicts listed",
			conflicts: []calendar.Event{
				{Title: "Standup"}, {Title: "1:1"},
			},
			want: "You have 2 events at this time: Standup, 1:1",
		},
		{
			name: "many conflicts counted",
			conflicts: []calendar.Event{
				{Title: "A"}, {Title: "B"}, {Title: "C"}, {Title: "D"}, {Title: "E"},
			},
			want: "You have 5 events scheduled during this time.",
		},
		{
			name:      "unnamed conflict",
			conflicts: []calendar.Event{{}},
			want:      "You already have 'Untitled' scheduled at this time.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalendar{conflicts: tt.conflicts}
			llm := &fakeLLM{completion: intentJSON(t, intentCreateEvent, intentParameters{
				Title:     "Lunch",
				StartTime: "2026-08-24T12:00:00Z",
				EndTime:   "2026-08-24T13:00:00Z",
			}, "")}
			a, _ := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, cal)

			result := a.ProcessMessage(context.Background(), "schedule lunch", "user-1", auth.Claims{}, "UTC")

			if !result.Success {
				t.Fatalf("result = %+v", result)
			}
			if !strings.Contains(result.Response, tt.want) {
				t.Errorf("response = %q, want substring %q", result.Response, tt.want)
			}
			if len(result.Conflicts) != len(tt.conflicts) {
				t.Errorf("conflicts = %d, want %d", len(result.Conflicts), len(tt.conflicts))
			}
		})
	}
}

func TestProcessMessage_CreateFailure(t *testing.T) {
	cal := &fakeCalendar{createErr: errors.New("insufficient scopes")}
	llm := &fakeLLM{completion: intentJSON(t, intentCreateEvent, intentParameters{
		Title:     "Lunch",
		StartTime: "2026-08-24T12:00:00Z",
		EndTime:   "2026-08-24T13:00:00Z",
	}, "")}
	a, _ := newTestAgent(llm, &fakeTokens{token: "ya29.token"}, cal)

	result := a.ProcessMessage(context.Background(), "schedule lunch", "user-1", auth.Claims{}, "UTC")

	if result.Success {
		t.Error("expected failure")
	}
	if !strings.Contains(result.Response, "trouble creating") {
		t.Errorf("response = %q", result.Response)
	}
}

func TestProcessMessage_LLMFailureFallsBackToList(t *testing.T) {
	llm := &fakeLLM{completionErr: errors.New("timeout")}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "show my calendar please", "user-1", auth.Claims{}, "UTC")

	if result.Action != ActionCalendarList || !result.Success {
		t.Errorf("result = %+v, want mock list fallback", result)
	}
}

func TestProcessMessage_LLMFailureNonCalendar(t *testing.T) {
	llm := &fakeLLM{completionErr: errors.New("timeout")}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "tell me a joke", "user-1", auth.Claims{}, "UTC")

	if result.Action != ActionError || result.Success {
		t.Errorf("result = %+v", result)
	}
	if !strings.Contains(result.Response, "trouble understanding") {
		t.Errorf("response = %q", result.Response)
	}
}

func TestProcessMessage_BadIntentJSONFallsBack(t *testing.T) {
	llm := &fakeLLM{completion: "sure, I can help!"}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	result := a.ProcessMessage(context.Background(), "tell me a joke", "user-1", auth.Claims{}, "UTC")

	if result.Action != ActionError || result.Success {
		t.Errorf("result = %+v", result)
	}
}

func TestProcessMessage_KeywordFallback(t *testing.T) {
	a, _ := newTestAgent(nil, &fakeTokens{}, &fakeCalendar{})

	tests := []struct {
		message    string
		wantAction string
	}{
		{"please schedule a meeting with Bob", ActionCalendarCreate},
		{"show my calendar", ActionCalendarList},
		{"what's the weather?", ActionGeneralResponse},
	}
	for _, tt := range tests {
		result := a.ProcessMessage(context.Background(), tt.message, "user-1", auth.Claims{}, "UTC")
		if result.Action != tt.wantAction {
			t.Errorf("%q: action = %q, want %q", tt.message, result.Action, tt.wantAction)
		}
	}
}

func TestProcessMessage_KeywordFallbackTruncatesTitleOnRuneBoundary(t *testing.T) {
	a, store := newTestAgent(nil, &fakeTokens{}, &fakeCalendar{})

	message := "schedule a meeting " + strings.Repeat("会", 100)
	result := a.ProcessMessage(context.Background(), message, "user-1", auth.Claims{}, "UTC")

	if result.Action != ActionCalendarCreate {
		t.Fatalf("action = %q", result.Action)
	}
	entries := store.ForUser("user-1")
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d", len(entries))
	}
	title, _ := entries[0].Details["event_title"].(string)
	if !utf8.ValidString(title) {
		t.Errorf("truncated title is not valid UTF-8: %q", title)
	}
	if got := utf8.RuneCountInString(title); got != 100 {
		t.Errorf("title runes = %d, want 100", got)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("title = %q, want ... suffix", title)
	}
}

func TestProcessMessage_PromptUsesTimezone(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentGeneral, intentParameters{}, "hi")}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	a.ProcessMessage(context.Background(), "hi", "user-1", auth.Claims{}, "Asia/Tokyo")

	prompt := llm.lastRequest.Messages[0].Content
	if !strings.Contains(prompt, "Asia/Tokyo") {
		t.Errorf("prompt missing timezone:\n%s", prompt)
	}
	// Clock is 12:00 UTC on 2026-08-23; Tokyo is 21:00 the same day.
	if !strings.Contains(prompt, "2026-08-23") {
		t.Errorf("prompt missing local date:\n%s", prompt)
	}
	if !llm.lastRequest.JSONResponse {
		t.Error("expected JSON response format")
	}
	if llm.lastRequest.Temperature != 0.7 {
		t.Errorf("temperature = %v", llm.lastRequest.Temperature)
	}
}

func TestProcessMessage_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	llm := &fakeLLM{completion: intentJSON(t, intentGeneral, intentParameters{}, "hi")}
	a, _ := newTestAgent(llm, &fakeTokens{}, &fakeCalendar{})

	a.ProcessMessage(context.Background(), "hi", "user-1", auth.Claims{}, "Mars/Olympus")

	prompt := llm.lastRequest.Messages[0].Content
	if !strings.Contains(prompt, "timezone UTC") {
		t.Errorf("prompt should fall back to UTC:\n%s", prompt)
	}
}
