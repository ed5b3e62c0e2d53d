package senders

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelane/convocore/internal/bus"
	"github.com/tidelane/convocore/internal/store"
)

func TestChatLimiter_PacesPerChat(t *testing.T) {
	lim := newChatLimiter(100, 1)
	ctx := context.Background()

	// Separate chats do not contend for the same bucket.
	start := time.Now()
	require.NoError(t, lim.wait(ctx, "chat-a"))
	require.NoError(t, lim.wait(ctx, "chat-b"))
	assert.Less(t, time.Since(start), 5*time.Millisecond)

	// The second send on one chat waits for a token.
	start = time.Now()
	require.NoError(t, lim.wait(ctx, "chat-a"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestClassify_TransientVsPermanent(t *testing.T) {
	timeout := &net.DNSError{Err: "lookup timeout", IsTimeout: true}
	assert.True(t, store.IsInfra(classify("send", timeout)))
	assert.True(t, store.IsInfra(classify("send", context.DeadlineExceeded)))
	assert.False(t, store.IsInfra(classify("send", errors.New("403: bot was blocked"))))
}

// bridgeServer is a minimal stand-in for the WhatsApp bridge.
func bridgeServer(t *testing.T, frames chan<- bridgeFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f bridgeFrame
			if json.Unmarshal(data, &f) == nil {
				frames <- f
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWhatsApp_SendsJSONFrame(t *testing.T) {
	frames := make(chan bridgeFrame, 1)
	srv := bridgeServer(t, frames)

	wa, err := NewWhatsApp(wsURL(srv), nil)
	require.NoError(t, err)
	defer wa.Close()

	res, err := wa.Send(context.Background(), bus.OutboundPayload{
		Channel: "whatsapp",
		ChatID:  "5511990001234@c.us",
		Text:    "How big is your team?",
		Type:    bus.TypeText,
	})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	select {
	case f := <-frames:
		assert.Equal(t, "message", f.Type)
		assert.Equal(t, "5511990001234@c.us", f.To)
		assert.Equal(t, "How big is your team?", f.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never received the frame")
	}
}

func TestWhatsApp_DownBridgeIsInfraError(t *testing.T) {
	// Point at a server that is already gone.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := wsURL(srv)
	srv.Close()

	wa, err := NewWhatsApp(url, nil)
	require.NoError(t, err, "constructor must tolerate a down bridge")

	_, err = wa.Send(context.Background(), bus.OutboundPayload{ChatID: "x", Text: "hi"})
	require.Error(t, err)
	assert.True(t, store.IsInfra(err), "unreachable bridge must report as infrastructure failure")
}

func TestWhatsApp_ReconnectsAfterDrop(t *testing.T) {
	frames := make(chan bridgeFrame, 2)
	srv := bridgeServer(t, frames)

	wa, err := NewWhatsApp(wsURL(srv), nil)
	require.NoError(t, err)
	defer wa.Close()

	_, err = wa.Send(context.Background(), bus.OutboundPayload{ChatID: "a", Text: "one"})
	require.NoError(t, err)
	<-frames

	// Sever the client side; the next send should dial again.
	wa.mu.Lock()
	wa.conn.Close()
	wa.mu.Unlock()

	res, err := wa.Send(context.Background(), bus.OutboundPayload{ChatID: "a", Text: "two"})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	select {
	case f := <-frames:
		assert.Equal(t, "two", f.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("frame after reconnect never arrived")
	}
}
