package responder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barnabee/core/internal/injector"
)

func TestRespondFillsTemplateWithFriendlyName(t *testing.T) {
	g := New(DefaultTemplates())

	text, err := g.Respond(context.Background(), "light_on", nil, []injector.Snippet{
		{EntityID: "light.kitchen", FriendlyName: "Kitchen Light", Description: "Kitchen Light: off"},
	})
	require.NoError(t, err)
	require.Equal(t, "Okay, turning on Kitchen Light.", text)
}

func TestRespondFallsBackToThatWithNoSnippets(t *testing.T) {
	g := New(DefaultTemplates())

	text, err := g.Respond(context.Background(), "light_off", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Okay, turning off that.", text)
}

func TestRespondHandlesTemplateWithNoPlaceholder(t *testing.T) {
	g := New(DefaultTemplates())

	text, err := g.Respond(context.Background(), "time_query", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "It's the current time.", text)
}

func TestRespondFallsBackToGenericAcknowledgementForUnknownIntent(t *testing.T) {
	g := New(DefaultTemplates())

	text, err := g.Respond(context.Background(), "scene_activate", nil, []injector.Snippet{
		{EntityID: "scene.movie_night", FriendlyName: "Movie Night"},
	})
	require.NoError(t, err)
	require.Equal(t, "Got it, I'll take care of Movie Night.", text)
}

func TestRespondSkipsEmptyFriendlyName(t *testing.T) {
	g := New(DefaultTemplates())

	text, err := g.Respond(context.Background(), "lock_lock", nil, []injector.Snippet{
		{EntityID: "lock.front_door", FriendlyName: ""},
	})
	require.NoError(t, err)
	require.Equal(t, "Locking that.", text)
}
