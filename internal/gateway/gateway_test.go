package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/cache"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/ids"
	"github.com/eludris/eludris/internal/models"
	"github.com/eludris/eludris/internal/ratelimit"
	"github.com/eludris/eludris/internal/service"
)

type testGateway struct {
	t      *testing.T
	h      *Handler
	client *redis.Client
	url    string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	conf, err := config.Parse([]byte(`
instance_name = "TestInstance"

[pandemonium]
rate_limit = { reset_after = 10, limit = 3 }
`))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	secret := make([]byte, 128)
	h := &Handler{
		Svc:     service.New(nil, client, conf, ids.New(0), secret, nil),
		Cache:   client,
		Limiter: ratelimit.New(client),
		Conf:    conf,
	}
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	return &testGateway{t: t, h: h, client: client, url: server.URL}
}

func (g *testGateway) dial() *websocket.Conn {
	g.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(g.url, "http"), nil)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { ws.Close() })
	return ws
}

func readPayload(t *testing.T, ws *websocket.Conn) models.Payload {
	t.Helper()
	var payload models.Payload
	require.NoError(t, ws.ReadJSON(&payload))
	return payload
}

func TestHelloAndHeartbeat(t *testing.T) {
	ws := newTestGateway(t).dial()

	hello := readPayload(t, ws)
	require.Equal(t, models.OpHello, hello.Op)
	var data models.HelloData
	require.NoError(t, json.Unmarshal(hello.D, &data))
	require.EqualValues(t, 45000, data.HeartbeatInterval)
	require.Equal(t, "TestInstance", data.InstanceInfo.InstanceName)

	require.NoError(t, ws.WriteJSON(models.Payload{Op: models.OpPing}))
	require.Equal(t, models.OpPong, readPayload(t, ws).Op)
}

func TestFrameRateLimiting(t *testing.T) {
	ws := newTestGateway(t).dial()
	readPayload(t, ws) // HELLO

	// Connecting charged one admission, so two heartbeats fill the window.
	for i := 0; i < 2; i++ {
		require.NoError(t, ws.WriteJSON(models.Payload{Op: models.OpPing}))
		require.Equal(t, models.OpPong, readPayload(t, ws).Op)
	}

	// The next frame draws a warning.
	require.NoError(t, ws.WriteJSON(models.Payload{Op: models.OpPing}))
	warning := readPayload(t, ws)
	require.Equal(t, models.OpRateLimit, warning.Op)
	var data models.RateLimitData
	require.NoError(t, json.Unmarshal(warning.D, &data))
	require.LessOrEqual(t, data.Wait, uint64(10_000))

	// A second violation in a row closes the connection.
	require.NoError(t, ws.WriteJSON(models.Payload{Op: models.OpPing}))
	var payload models.Payload
	err := ws.ReadJSON(&payload)
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, "Client got ratelimited", closeErr.Text)
}

func TestConnectChargesRateLimit(t *testing.T) {
	g := newTestGateway(t)

	// The limit is 3 per window and every connection from one address
	// shares the bucket.
	for i := 0; i < 3; i++ {
		ws := g.dial()
		require.Equal(t, models.OpHello, readPayload(t, ws).Op)
	}

	// The fourth connect is warned before being greeted.
	ws := g.dial()
	warning := readPayload(t, ws)
	require.Equal(t, models.OpRateLimit, warning.Op)
	require.Equal(t, models.OpHello, readPayload(t, ws).Op)
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	ws := newTestGateway(t).dial()
	readPayload(t, ws) // HELLO

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.WriteJSON(models.Payload{Op: models.OpPing}))
	require.Equal(t, models.OpPong, readPayload(t, ws).Op)
}

func TestInvalidTokenClosesConnection(t *testing.T) {
	ws := newTestGateway(t).dial()
	readPayload(t, ws) // HELLO

	require.NoError(t, ws.WriteJSON(models.NewPayload(models.OpAuthenticate, "garbage")))
	var payload models.Payload
	err := ws.ReadJSON(&payload)
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, "Invalid credentials", closeErr.Text)
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:4567"
	require.Equal(t, "10.1.2.3", realIP(r))

	r.Header.Set("CF-Connecting-IP", "9.9.9.9")
	require.Equal(t, "9.9.9.9", realIP(r))

	r.Header.Set("X-Real-Ip", "8.8.8.8")
	require.Equal(t, "8.8.8.8", realIP(r))
}

func TestDisconnectPresence(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	sub := cache.SubscribeEvents(ctx, g.client)
	t.Cleanup(func() { sub.Close() })

	// An invisible user's last connection goes quietly.
	require.NoError(t, g.client.Set(ctx, "session:5", 1, 0).Err())
	require.NoError(t, g.client.SAdd(ctx, "sessions", 5).Err())
	g.h.disconnectPresence(5, models.Status{Type: models.StatusOffline})

	online, err := g.client.SIsMember(ctx, "sessions", 5).Result()
	require.NoError(t, err)
	require.False(t, online)
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected event for invisible user: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}

	// A visible user's last connection announces going offline.
	require.NoError(t, g.client.Set(ctx, "session:6", 1, 0).Err())
	require.NoError(t, g.client.SAdd(ctx, "sessions", 6).Err())
	g.h.disconnectPresence(6, models.Status{Type: models.StatusOnline})

	select {
	case msg := <-sub.Channel():
		var payload models.Payload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		require.Equal(t, models.OpPresenceUpdate, payload.Op)
		var data models.PresenceUpdateData
		require.NoError(t, json.Unmarshal(payload.D, &data))
		require.EqualValues(t, 6, data.UserID)
		require.Equal(t, models.StatusOffline, data.Status.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an offline presence event")
	}
}
