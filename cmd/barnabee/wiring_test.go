package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebsocketURLDerivesFromHTTPBaseURL(t *testing.T) {
	require.Equal(t, "wss://home.local/api/websocket", websocketURL("https://home.local"))
	require.Equal(t, "ws://192.168.1.2:8123/api/websocket", websocketURL("http://192.168.1.2:8123"))
}
