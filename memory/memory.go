// Package memory provides the pure history operations of the framework:
// bounding a conversation to a sliding window and sanitizing it when the
// active expert changes. Both functions are stateless and never mutate their
// input slice.
package memory

import (
	"strings"

	"github.com/hupe1980/switchboard/core"
)

// ContextHintPrefix marks assistant entries that were injected as routing
// context rather than authored by an expert. Sanitization strips them on
// expert switches so a departed expert's hints cannot leak into the next
// expert's context.
const ContextHintPrefix = "Context hints:"

// Prune bounds a history to the last maxTurns user/assistant exchanges (two
// entries per exchange). Histories already within the bound are returned
// unchanged. Drop-oldest, no summarization.
func Prune(history []core.Message, maxTurns int) []core.Message {
	limit := maxTurns * 2
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// SanitizeForSwitch removes entries that belong to the departing expert's
// context: every system-role message and every assistant-authored context
// hint. Applied exactly once, immediately after the router decides the
// active expert has changed.
func SanitizeForSwitch(history []core.Message) []core.Message {
	clean := make([]core.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == core.RoleSystem {
			continue
		}
		if msg.Role == core.RoleAssistant && strings.HasPrefix(msg.Content, ContextHintPrefix) {
			continue
		}
		clean = append(clean, msg)
	}
	return clean
}
