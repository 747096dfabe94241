// Package agent implements the conversational calendar agent: moderation,
// LLM-based intent extraction, and dispatch to calendar operations with
// graceful degradation when no model or Google token is available.
package agent
