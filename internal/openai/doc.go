// Package openai is a thin client for the OpenAI REST API, covering the
// chat completion and moderation endpoints the agent needs.
package openai
