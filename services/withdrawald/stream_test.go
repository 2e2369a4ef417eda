package withdrawald

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"creditchain/core/types"
)

func TestHubStreamsFilteredEvents(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?types=withdrawal.completed"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, &types.Event{Type: "withdrawal.pooled", Attributes: map[string]string{"id": "a"}}))
	require.NoError(t, hub.Publish(ctx, &types.Event{Type: "withdrawal.completed", Attributes: map[string]string{"id": "b"}}))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "withdrawal.completed", evt.Type)
	require.Equal(t, "b", evt.Attributes["id"])
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub(nil)
	updates, cancel := hub.Subscribe(nil)
	for i := 0; i < streamBufferSize+5; i++ {
		require.NoError(t, hub.Publish(context.Background(), &types.Event{Type: "withdrawal.queued"}))
	}
	require.Len(t, updates, streamBufferSize)
	cancel()
	cancel()
	require.Zero(t, hub.Subscribers())
}

func TestParseKindsAcceptsListsAndRepeats(t *testing.T) {
	kinds := parseKinds([]string{"withdrawal.pooled, withdrawal.completed", "token.supply", " ,"})
	require.Equal(t, []string{"withdrawal.pooled", "withdrawal.completed", "token.supply"}, kinds)
	require.Empty(t, parseKinds(nil))
}
