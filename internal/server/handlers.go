package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vaultmind/vaultmind/internal/audit"
	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/calendar"
	"github.com/vaultmind/vaultmind/internal/logging"
)

// chatRequest is the body of POST /agent/chat.
type chatRequest struct {
	Message  string `json:"message"`
	Timezone string `json:"timezone"`
}

// chatResponse is the body returned by POST /agent/chat.
type chatResponse struct {
	Response     string           `json:"response"`
	ActionTaken  string           `json:"action_taken,omitempty"`
	Success      bool             `json:"success"`
	Timestamp    time.Time        `json:"timestamp"`
	EventDetails *calendar.Event  `json:"event_details,omitempty"`
	Events       []calendar.Event `json:"events,omitempty"`
	Conflicts    []calendar.Event `json:"conflicts,omitempty"`
}

// calendarEventRequest is the body of POST and PUT /agent/calendar.
type calendarEventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// eventPayload is a calendar event as returned by the calendar endpoints,
// annotated with creation metadata and whether it is demo data.
type eventPayload struct {
	calendar.Event
	Created string `json:"created,omitempty"`
	IsMock  bool   `json:"is_mock"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.config.Version,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	userID := subjectOrUnknown(claims)

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if n := utf8.RuneCountInString(req.Message); n == 0 || n > 1000 {
		writeError(w, http.StatusUnprocessableEntity, "Message must be between 1 and 1000 characters")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	result := s.agent.ProcessMessage(r.Context(), req.Message, userID, claims, req.Timezone)

	s.auditStore.Record(userID, audit.ActionChatInteraction, map[string]any{
		"message":      req.Message,
		"response":     result.Response,
		"action_taken": result.Action,
	}, result.Success, s.clientIP(r))

	writeJSON(w, http.StatusOK, chatResponse{
		Response:     result.Response,
		ActionTaken:  result.Action,
		Success:      result.Success,
		Timestamp:    time.Now().UTC(),
		EventDetails: result.Event,
		Events:       result.Events,
		Conflicts:    result.Conflicts,
	})
}

func (s *Server) handleCalendarList(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	userID := subjectOrUnknown(claims)

	token := s.tokens.GoogleToken(r.Context(), claims)

	var events []calendar.Event
	if token == "" {
		s.logger.Warn("no Google token found, using mock calendar data", logging.UserHash(userID))
		events = mockListEvents()
	} else {
		client, err := s.newCalendar(r.Context(), token)
		if err == nil {
			events, err = client.ListEvents(r.Context(), 10, time.Now())
		}
		if err != nil {
			s.logger.Error("calendar list failed", logging.Err(err))
			s.auditStore.Record(userID, audit.ActionCalendarList,
				map[string]any{"error": err.Error()}, false, "")
			writeError(w, http.StatusInternalServerError, "Unable to retrieve calendar events: "+err.Error())
			return
		}
	}
	if events == nil {
		events = []calendar.Event{}
	}

	s.auditStore.Record(userID, audit.ActionCalendarList,
		map[string]any{"events_count": len(events), "real_data": token != ""}, true, "")

	writeJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"success":   true,
		"real_data": token != "",
	})
}

func (s *Server) handleCalendarCreate(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	userID := subjectOrUnknown(claims)

	var req calendarEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusUnprocessableEntity, "title, start_time and end_time are required")
		return
	}

	token := s.tokens.GoogleToken(r.Context(), claims)

	var created eventPayload
	if token == "" {
		s.logger.Warn("no Google token found, creating mock calendar event", logging.UserHash(userID))
		description := req.Description
		if description == "" {
			description = "Mock event - Re-authenticate to create real events"
		}
		now := time.Now().UTC()
		created = eventPayload{
			Event: calendar.Event{
				ID:          fmt.Sprintf("mock-event-%d", now.Unix()),
				Title:       req.Title,
				Description: description,
				Start:       req.StartTime,
				End:         req.EndTime,
			},
			Created: now.Format(time.RFC3339),
			IsMock:  true,
		}
	} else {
		input, err := eventInputFromRequest(req)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		event, err := s.createEvent(r.Context(), token, input)
		if err != nil {
			s.logger.Error("calendar creation failed", logging.Err(err))
			s.auditStore.Record(userID, audit.ActionCalendarCreate,
				map[string]any{"error": err.Error(), "event_title": req.Title}, false, "")
			writeError(w, http.StatusInternalServerError, "Unable to create calendar event: "+err.Error())
			return
		}
		created = eventPayload{Event: *event}
	}

	s.auditStore.Record(userID, audit.ActionCalendarCreate, map[string]any{
		"event_title": req.Title,
		"start_time":  req.StartTime,
		"end_time":    req.EndTime,
		"real_data":   token != "",
	}, true, "")

	writeJSON(w, http.StatusOK, map[string]any{
		"event":     created,
		"success":   true,
		"real_data": token != "",
	})
}

func (s *Server) handleCalendarUpdate(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	userID := subjectOrUnknown(claims)
	eventID := r.PathValue("id")

	var req calendarEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token := s.tokens.GoogleToken(r.Context(), claims)
	if token == "" {
		writeError(w, http.StatusForbidden, "Google Calendar authorization required")
		return
	}

	input, err := eventInputFromRequest(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	client, err := s.newCalendar(r.Context(), token)
	var event *calendar.Event
	if err == nil {
		event, err = client.UpdateEvent(r.Context(), eventID, input)
	}
	if err != nil {
		s.logger.Error("calendar update failed", logging.Err(err))
		s.auditStore.Record(userID, audit.ActionCalendarUpdate,
			map[string]any{"error": err.Error(), "event_id": eventID}, false, "")
		writeError(w, http.StatusInternalServerError, "Unable to update calendar event: "+err.Error())
		return
	}

	s.auditStore.Record(userID, audit.ActionCalendarUpdate, map[string]any{
		"event_id":    eventID,
		"event_title": req.Title,
	}, true, "")

	writeJSON(w, http.StatusOK, map[string]any{
		"event":     eventPayload{Event: *event},
		"success":   true,
		"real_data": true,
	})
}

func (s *Server) handleCalendarDelete(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	userID := subjectOrUnknown(claims)
	eventID := r.PathValue("id")

	token := s.tokens.GoogleToken(r.Context(), claims)
	if token == "" {
		writeError(w, http.StatusForbidden, "Google Calendar authorization required")
		return
	}

	client, err := s.newCalendar(r.Context(), token)
	if err == nil {
		err = client.DeleteEvent(r.Context(), eventID)
	}
	if err != nil {
		s.logger.Error("calendar delete failed", logging.Err(err))
		s.auditStore.Record(userID, audit.ActionCalendarDelete,
			map[string]any{"error": err.Error(), "event_id": eventID}, false, "")
		writeError(w, http.StatusInternalServerError, "Unable to delete calendar event: "+err.Error())
		return
	}

	s.auditStore.Record(userID, audit.ActionCalendarDelete,
		map[string]any{"event_id": eventID}, true, "")

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	userID := subjectOrUnknown(claims)

	logs := s.auditStore.ForUser(userID)
	if logs == nil {
		logs = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) createEvent(ctx context.Context, token string, input calendar.EventInput) (*calendar.Event, error) {
	client, err := s.newCalendar(ctx, token)
	if err != nil {
		return nil, err
	}
	return client.CreateEvent(ctx, input)
}

// eventInputFromRequest builds the calendar input, leaving omitted time
// fields zero so updates can patch only what the caller sent.
func eventInputFromRequest(req calendarEventRequest) (calendar.EventInput, error) {
	input := calendar.EventInput{
		Summary:     req.Title,
		Description: req.Description,
	}
	if req.StartTime != "" {
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return calendar.EventInput{}, fmt.Errorf("invalid start_time: must be RFC 3339")
		}
		input.Start = start
	}
	if req.EndTime != "" {
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return calendar.EventInput{}, fmt.Errorf("invalid end_time: must be RFC 3339")
		}
		input.End = end
	}
	return input, nil
}

// mockListEvents is the demo payload for GET /agent/calendar when no
// Google token is available.
func mockListEvents() []calendar.Event {
	return []calendar.Event{
		{
			ID:          "mock-1",
			Title:       "Demo Event (Mock Data)",
			Description: "Re-authenticate with Google Calendar scopes to see real events",
			Start:       "2025-10-20T09:00:00Z",
			End:         "2025-10-20T10:00:00Z",
		},
	}
}

func subjectOrUnknown(claims auth.Claims) string {
	if sub := claims.Subject(); sub != "" {
		return sub
	}
	return "unknown"
}

// clientIP identifies the caller for audit records. The first
// X-Forwarded-For hop is honored only behind a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
