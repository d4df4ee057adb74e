package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccsml/internal/shared/testutil"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubSendsConnectionMessage(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	ev := readEvent(t, conn)
	assert.Equal(t, TypeConnection, ev.Type)
	assert.Equal(t, "connected", ev.Status)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubBroadcastsStageEvents(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv)
	b := dial(t, srv)
	readEvent(t, a)
	readEvent(t, b)

	hub.BroadcastUpdate("stage_completed", "scale", "completed", map[string]interface{}{"run_id": "r1"})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "stage_completed", ev.Type)
		assert.Equal(t, "scale", ev.Stage)
		assert.Equal(t, "completed", ev.Status)
		assert.Equal(t, map[string]interface{}{"run_id": "r1"}, ev.Data)
	}
}

func TestHubUnregistersClosedClient(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readEvent(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestBroadcastUpdateNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.BroadcastUpdate("stage_started", "prepare", "running", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("BroadcastUpdate blocked without a running hub")
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
