// Package responder generates the natural-language response text for a
// decided intent (spec §4.11's Request Orchestrator dependency). Authoring
// an LLM is an explicit non-goal (spec.md §1); this is a template-based
// generator, not a model, so it needs no model collaborator of its own.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/barnabee/core/internal/injector"
)

// Templates maps an intent to a response template. "%s" is filled with
// the first injected snippet's friendly name, if any.
type Templates map[string]string

// DefaultTemplates covers the registry's dispatchable intents plus the
// informational intents that never reach the executor.
func DefaultTemplates() Templates {
	return Templates{
		"light_on":     "Okay, turning on %s.",
		"light_off":    "Okay, turning off %s.",
		"light_dim":    "Adjusting %s.",
		"cover_open":   "Opening %s.",
		"cover_close":  "Closing %s.",
		"cover_set":    "Setting %s.",
		"climate_set":  "Adjusting the temperature on %s.",
		"media_play":   "Resuming playback on %s.",
		"media_pause":  "Pausing %s.",
		"media_volume": "Adjusting the volume on %s.",
		"lock_lock":    "Locking %s.",
		"lock_unlock":  "Unlocking %s.",
		"time_query":   "It's the current time.",
		"weather_query": "Here's the forecast.",
	}
}

// Generator is a template-based Responder (satisfies
// orchestrator.Responder).
type Generator struct {
	templates Templates
}

// New builds a Generator from templates.
func New(templates Templates) *Generator {
	return &Generator{templates: templates}
}

// Respond fills the template for intent with the first snippet's
// friendly name, falling back to a generic acknowledgement for intents
// with no template (spec §7: never "I don't know" for a recognizable
// input).
func (g *Generator) Respond(ctx context.Context, intent string, slots map[string]any, snippets []injector.Snippet) (string, error) {
	subject := "that"
	if len(snippets) > 0 && snippets[0].FriendlyName != "" {
		subject = snippets[0].FriendlyName
	}

	tmpl, ok := g.templates[intent]
	if !ok {
		return fmt.Sprintf("Got it, I'll take care of %s.", subject), nil
	}
	if !strings.Contains(tmpl, "%s") {
		return tmpl, nil
	}
	return fmt.Sprintf(tmpl, subject), nil
}
