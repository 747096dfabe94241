package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vaultmind/vaultmind/internal/audit"
	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/calendar"
	"github.com/vaultmind/vaultmind/internal/instrumentation"
	"github.com/vaultmind/vaultmind/internal/logging"
	"github.com/vaultmind/vaultmind/internal/openai"
)

const moderationRefusal = "I'm sorry, but I cannot process that request. Please keep conversations professional and calendar-related."

// Agent turns natural-language chat messages into calendar actions.
type Agent struct {
	llm         LLM
	tokens      GoogleTokenSource
	auditStore  *audit.Store
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
	newCalendar CalendarFactory
	now         func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithMetrics enables metric recording. Nil-safe by default.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(a *Agent) {
		a.metrics = metrics
	}
}

// WithClock overrides the agent's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// New creates an Agent. llm may be nil when no API key is configured; the
// agent then falls back to keyword-based intent detection.
func New(llm LLM, tokens GoogleTokenSource, auditStore *audit.Store, newCalendar CalendarFactory, opts ...Option) *Agent {
	a := &Agent{
		llm:         llm,
		tokens:      tokens,
		auditStore:  auditStore,
		logger:      slog.Default().With("component", "agent"),
		newCalendar: newCalendar,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessMessage handles one chat message. It always produces a Result;
// internal failures degrade to an apologetic response rather than an
// error, so the chat endpoint stays conversational.
func (a *Agent) ProcessMessage(ctx context.Context, message, userID string, claims auth.Claims, timezone string) *Result {
	message = strings.TrimSpace(message)

	if a.llm != nil {
		if blocked := a.moderate(ctx, message, userID); blocked != nil {
			a.recordChat(ctx, blocked)
			return blocked
		}
	}

	var result *Result
	if a.llm != nil {
		result = a.processWithLLM(ctx, message, userID, claims, timezone)
	} else {
		result = a.keywordFallback(ctx, message, userID, claims)
	}

	a.recordChat(ctx, result)
	return result
}

// moderate checks the message against the moderation endpoint. Returns a
// refusal Result when flagged, nil otherwise. Moderation failures allow
// the message through (fail-open): losing moderation should not take the
// product down.
func (a *Agent) moderate(ctx context.Context, message, userID string) *Result {
	result, err := a.llm.CreateModeration(ctx, message)
	if err != nil {
		a.logger.Error("moderation check failed", logging.Err(err))
		if a.metrics != nil {
			a.metrics.RecordModerationCheck(ctx, instrumentation.ModerationFailed)
		}
		return nil
	}

	if !result.Flagged {
		if a.metrics != nil {
			a.metrics.RecordModerationCheck(ctx, instrumentation.ModerationAllowed)
		}
		return nil
	}

	a.logger.Warn("blocked harmful content",
		logging.UserHash(userID),
		slog.Any("categories", result.Categories),
	)
	if a.metrics != nil {
		a.metrics.RecordModerationCheck(ctx, instrumentation.ModerationFlagged)
	}
	a.auditStore.Record(userID, audit.ActionModerationBlocked,
		map[string]any{"categories": result.Categories}, false, "")

	return &Result{
		Response: moderationRefusal,
		Action:   ActionModerationBlocked,
		Success:  false,
	}
}

// processWithLLM extracts intent and parameters from the message and
// dispatches to the matching handler.
func (a *Agent) processWithLLM(ctx context.Context, message, userID string, claims auth.Claims, timezone string) *Result {
	loc, tzName := userLocation(timezone)
	if tzName != timezone && timezone != "" {
		a.logger.Warn("invalid timezone, using UTC", "timezone", timezone)
	}
	now := a.now().In(loc)

	content, err := a.llm.CreateChatCompletion(ctx, openai.ChatRequest{
		Messages: []openai.Message{
			{Role: "system", Content: buildSystemPrompt(now, tzName)},
			{Role: "user", Content: message},
		},
		Temperature:  0.7,
		JSONResponse: true,
	})
	if err != nil {
		a.logger.Error("intent extraction failed", logging.Err(err))
		return a.llmFailureFallback(ctx, message, userID, claims)
	}

	var intent intentResponse
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		a.logger.Error("failed to parse intent response", logging.Err(err))
		return a.llmFailureFallback(ctx, message, userID, claims)
	}

	aiMessage := intent.Response
	if aiMessage == "" {
		aiMessage = "I'm not sure how to help with that."
	}

	switch intent.Intent {
	case intentListCalendar:
		return a.handleList(ctx, userID, claims, &intent.Parameters)
	case intentCreateEvent:
		return a.handleCreate(ctx, intent.Parameters, userID, claims, timezone)
	default:
		return &Result{
			Response: aiMessage,
			Action:   ActionGeneralResponse,
			Success:  true,
		}
	}
}

// llmFailureFallback routes obvious calendar queries to the list handler
// when the model is unavailable.
func (a *Agent) llmFailureFallback(ctx context.Context, message, userID string, claims auth.Claims) *Result {
	if containsAny(message, "calendar", "show", "list", "view") {
		return a.handleList(ctx, userID, claims, nil)
	}
	return &Result{
		Response: "I had trouble understanding that. Could you try rephrasing?",
		Action:   ActionError,
		Success:  false,
	}
}

// keywordFallback is the no-API-key path: simple keyword intent detection.
func (a *Agent) keywordFallback(ctx context.Context, message, userID string, claims auth.Claims) *Result {
	if containsAny(message, "calendar", "event", "meeting", "appointment") {
		switch {
		case containsAny(message, "create", "add", "schedule"):
			title := message
			if runes := []rune(title); len(runes) > 100 {
				title = string(runes[:97]) + "..."
			}
			a.auditStore.Record(userID, audit.ActionCalendarCreateAttempt,
				map[string]any{"message": message, "event_title": title}, true, "")
			return &Result{
				Response: "📅 To create this event, please provide more details like date and time (e.g., 'tomorrow at 2pm').",
				Action:   ActionCalendarCreate,
				Success:  true,
			}
		case containsAny(message, "list", "show", "view"):
			return a.handleList(ctx, userID, claims, nil)
		}
	}

	return &Result{
		Response: fmt.Sprintf("I understand you said: '%s'. I can help you with calendar events. Try asking me to 'create a meeting' or 'show my calendar'.", message),
		Action:   ActionGeneralResponse,
		Success:  true,
	}
}

// handleList fetches upcoming events, filtering by the extracted time
// window when present.
func (a *Agent) handleList(ctx context.Context, userID string, claims auth.Claims, params *intentParameters) *Result {
	token := a.tokens.GoogleToken(ctx, claims)

	var (
		events       []calendar.Event
		responseText string
	)

	if token == "" {
		a.logger.Warn("no Google token found, using mock calendar data", logging.UserHash(userID))
		events = MockListEvents()
		responseText = "📅 Retrieved your upcoming events from Google Calendar (showing mock data - add Calendar scopes to see real events)."
	} else {
		client, err := a.newCalendar(ctx, token)
		if err != nil {
			return a.listError(userID, err)
		}
		events, err = client.ListEvents(ctx, 10, a.now())
		if err != nil {
			return a.listError(userID, err)
		}

		if params != nil && params.StartTime != "" && params.EndTime != "" {
			if filtered, ok := filterByWindow(events, params.StartTime, params.EndTime); ok {
				events = filtered
				a.logger.Info("filtered events to query window", "count", len(events))
			} else {
				a.logger.Warn("date filtering failed, showing all events")
			}
		}

		if len(events) == 0 {
			responseText = "📅 You have no upcoming calendar events."
		} else {
			responseText = fmt.Sprintf("📅 Retrieved %d upcoming events from your Google Calendar.", len(events))
		}
	}

	a.auditStore.Record(userID, audit.ActionCalendarListAttempt,
		map[string]any{"events_count": len(events), "real_data": token != ""}, true, "")

	return &Result{
		Response: responseText,
		Action:   ActionCalendarList,
		Success:  true,
		Events:   events,
	}
}

func (a *Agent) listError(userID string, err error) *Result {
	a.logger.Error("calendar list failed", logging.Err(err))
	a.auditStore.Record(userID, audit.ActionCalendarListAttempt,
		map[string]any{"error": err.Error()}, false, "")
	return &Result{
		Response: "I encountered an error while retrieving your calendar events.",
		Action:   ActionCalendarList,
		Success:  false,
	}
}

// handleCreate creates an event from extracted parameters, warning about
// conflicts found in the target window.
func (a *Agent) handleCreate(ctx context.Context, params intentParameters, userID string, claims auth.Claims, timezone string) *Result {
	title := params.Title
	if title == "" {
		title = "Untitled Event"
	}

	if params.StartTime == "" || params.EndTime == "" {
		return &Result{
			Response: "I need more information about when to schedule this event. Could you provide a date and time?",
			Action:   ActionCalendarCreate,
			Success:  false,
		}
	}

	token := a.tokens.GoogleToken(ctx, claims)
	if token == "" {
		a.auditStore.Record(userID, audit.ActionCalendarCreateAttempt,
			map[string]any{"title": title, "note": "No Google token - would create in real calendar"}, true, "")
		return &Result{
			Response: "📅 Preview: This event would be created in your Google Calendar. (Authenticate with Google Calendar to create real events)",
			Action:   ActionCalendarCreate,
			Success:  true,
		}
	}

	start, err := time.Parse(time.RFC3339, params.StartTime)
	if err != nil {
		return a.createError(userID, title, fmt.Errorf("invalid start_time %q: %w", params.StartTime, err))
	}
	end, err := time.Parse(time.RFC3339, params.EndTime)
	if err != nil {
		return a.createError(userID, title, fmt.Errorf("invalid end_time %q: %w", params.EndTime, err))
	}

	client, err := a.newCalendar(ctx, token)
	if err != nil {
		return a.createError(userID, title, err)
	}

	conflicts, err := client.CheckConflicts(ctx, start, end)
	if err != nil {
		return a.createError(userID, title, err)
	}

	event, err := client.CreateEvent(ctx, calendar.EventInput{
		Summary:     title,
		Description: params.Description,
		Start:       start,
		End:         end,
		TimeZone:    timezone,
	})
	if err != nil {
		return a.createError(userID, title, err)
	}

	a.auditStore.Record(userID, audit.ActionCalendarCreate, map[string]any{
		"title":         title,
		"start":         params.StartTime,
		"event_id":      event.ID,
		"had_conflicts": len(conflicts) > 0,
	}, true, "")

	return &Result{
		Response:  "✅ Successfully created event in your Google Calendar." + conflictWarning(conflicts),
		Action:    ActionCalendarCreate,
		Success:   true,
		Event:     event,
		Conflicts: conflicts,
	}
}

func (a *Agent) createError(userID, title string, err error) *Result {
	a.logger.Error("calendar creation failed", logging.Err(err))
	a.auditStore.Record(userID, audit.ActionCalendarCreateAttempt,
		map[string]any{"title": title, "error": err.Error()}, false, "")
	return &Result{
		Response: "I had trouble creating that event. Please try again.",
		Action:   ActionCalendarCreate,
		Success:  false,
	}
}

// conflictWarning phrases the conflict notice by count: one event by name,
// up to three by name, more by count alone.
func conflictWarning(conflicts []calendar.Event) string {
	if len(conflicts) == 0 {
		return ""
	}

	names := make([]string, 0, 3)
	for i, c := range conflicts {
		if i == 3 {
			break
		}
		name := c.Title
		if name == "" {
			name = "Untitled"
		}
		names = append(names, name)
	}

	switch {
	case len(conflicts) == 1:
		return fmt.Sprintf("\n\n⚠️ **Conflict detected:** You already have '%s' scheduled at this time.", names[0])
	case len(conflicts) <= 3:
		return fmt.Sprintf("\n\n⚠️ **Conflicts detected:** You have %d events at this time: %s", len(conflicts), strings.Join(names, ", "))
	default:
		return fmt.Sprintf("\n\n⚠️ **Conflicts detected:** You have %d events scheduled during this time.", len(conflicts))
	}
}

// filterByWindow keeps events starting within [start, end]. The second
// return is false when the window bounds don't parse; callers then show
// the unfiltered list.
func filterByWindow(events []calendar.Event, startStr, endStr string) ([]calendar.Event, bool) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return nil, false
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return nil, false
	}

	filtered := make([]calendar.Event, 0, len(events))
	for _, e := range events {
		eventStart, err := e.StartTime()
		if err != nil {
			return nil, false
		}
		if !eventStart.Before(start) && !eventStart.After(end) {
			filtered = append(filtered, e)
		}
	}
	return filtered, true
}

func (a *Agent) recordChat(ctx context.Context, result *Result) {
	if a.metrics == nil {
		return
	}
	status := instrumentation.StatusSuccess
	if !result.Success {
		status = instrumentation.StatusError
	}
	a.metrics.RecordChatMessage(ctx, result.Action, status)
}

func containsAny(message string, keywords ...string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
