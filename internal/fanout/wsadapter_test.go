package fanout

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func TestWSSubscriber_DeliversBroadcastMessage(t *testing.T) {
	hub := NewHub(10 * time.Millisecond)
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		sub := NewWSSubscriber("sub-1", conn)
		hub.Join("exec-1", sub)
		go sub.Run(func() { hub.Leave("exec-1", sub) })
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(20 * time.Millisecond)

	hub.Publish(Message{Kind: EventExecutionCompleted, ExecutionID: "exec-1", Payload: map[string]any{"ok": true}})

	client.SetReadDeadline(time.Now().Add(time.Second))
	var received Message
	require.NoError(t, client.ReadJSON(&received))
	assert.Equal(t, EventExecutionCompleted, received.Kind)
	assert.Equal(t, "exec-1", received.ExecutionID)
}

func TestWSSubscriber_IDMatchesConstructorArgument(t *testing.T) {
	sub := NewWSSubscriber("sub-xyz", nil)
	assert.Equal(t, "sub-xyz", sub.ID())
}

func TestWSSubscriber_SendAfterCloseReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sub := NewWSSubscriber("sub-2", conn)
		sub.Close()
		// Fill the buffer so the next Send observes the default branch
		// deterministically instead of racing the closed write pump.
		for i := 0; i < wsSendBufferSize; i++ {
			sub.send <- Message{}
		}
		err = sub.Send(Message{Kind: EventExecutionLog})
		assert.Error(t, err)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()
	time.Sleep(20 * time.Millisecond)
}
