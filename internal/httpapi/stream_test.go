package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gheezy/signalengine/internal/domain"
)

func TestStreamHub_BroadcastsCreatedSignals(t *testing.T) {
	hub := NewStreamHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server loop a moment to register the client.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	sig := domain.Signal{
		ID:        uuid.New(),
		SubjectID: 1,
		Symbol:    "BTCUSD",
		Direction: domain.DirectionLong,
		Tier:      "normal",
	}
	hub.SignalCreated(sig)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Signal
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sig.ID, got.ID)
	assert.Equal(t, "BTCUSD", got.Symbol)
}

func TestStreamHub_NoClientsIsNoOp(t *testing.T) {
	hub := NewStreamHub()
	assert.NotPanics(t, func() {
		hub.SignalCreated(domain.Signal{Symbol: "BTCUSD"})
	})
}

func TestStreamHub_SlowClientDropped(t *testing.T) {
	hub := NewStreamHub()

	// A client whose buffer is already full and that nobody drains.
	stuck := &client{send: make(chan domain.Signal)}
	hub.mu.Lock()
	hub.clients[stuck] = struct{}{}
	hub.mu.Unlock()

	hub.SignalCreated(domain.Signal{Symbol: "BTCUSD"})

	hub.mu.Lock()
	n := len(hub.clients)
	hub.mu.Unlock()
	assert.Zero(t, n)

	// The channel is closed so the write loop would exit.
	_, open := <-stuck.send
	assert.False(t, open)
}
