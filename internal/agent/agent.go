// Package agent runs the language-model tool-calling loop for one chat turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CalChat/internal/session"
	"CalChat/internal/tools"
)

// FallbackAnswer is returned when the model finishes without any text.
const FallbackAnswer = "Not sure how to help."

// ErrTooManyRounds means the model kept requesting tools past the round limit.
var ErrTooManyRounds = errors.New("agent exceeded tool-call rounds")

// Toolbox is what the agent may call during a turn. Invoke receives the
// decoded arguments and returns the text handed back to the model.
type Toolbox interface {
	Tools() []tools.Tool
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Runner answers one user message given the prior history.
type Runner interface {
	Run(ctx context.Context, history []session.Message, input string, box Toolbox) (string, error)
}

// SystemPrompt builds the scheduling-assistant instructions for the given moment.
func SystemPrompt(now time.Time) string {
	now = now.UTC()
	return "You are a world class personal assistant for scheduling meetings. " +
		"You always treat user with respect and kindness. " +
		"If the user requests you to do anything other than managing " +
		"meetings, respectfully decline. " +
		"Always keep your answers concise at any cost.\n" +
		"Users can - View all meetings, schedule a new meeting, " +
		"cancel one or all meetings, reschedule a meeting.\n" +
		fmt.Sprintf("Current UTC time: %s.\n", now.Format(time.RFC3339Nano)) +
		fmt.Sprintf("Today's date: %s\n", now.Format(time.DateOnly)) +
		fmt.Sprintf("Tomorrow's date: %s\n", now.AddDate(0, 0, 1).Format(time.DateOnly)) +
		"You must schedule meetings for a future time. " +
		"When the user says 'tomorrow', use the tomorrow date above. " +
		"Always convert times to UTC format for API calls."
}
