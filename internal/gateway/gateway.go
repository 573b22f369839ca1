// Package gateway implements the websocket gateway: it greets connections,
// tracks heartbeats and presence, and fans instance events out to
// authenticated clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/cache"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/metrics"
	"github.com/eludris/eludris/internal/models"
	"github.com/eludris/eludris/internal/ratelimit"
	"github.com/eludris/eludris/internal/service"
)

// HeartbeatInterval is how often clients are told to ping, in milliseconds.
const HeartbeatInterval = 45_000

// deadInterval is how long a connection may stay silent before it is
// considered dead. Slightly above HeartbeatInterval to allow for jitter.
const deadInterval = 48 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway is a public endpoint; token auth happens in-band.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades and serves gateway connections.
type Handler struct {
	Svc     *service.Service
	Cache   *redis.Client
	Limiter *ratelimit.Limiter
	Conf    *config.Conf
}

// conn serializes writes to a websocket connection.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(payload models.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(payload)
}

func (c *conn) close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = c.ws.Close()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := realIP(r)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}

	metrics.GatewayConnections.Inc()
	defer metrics.GatewayConnections.Dec()

	c := &conn{ws: ws}
	defer ws.Close()
	h.serve(r.Context(), c, ip)
}

// realIP resolves the client address, preferring proxy headers. The direct
// fallback drops the ephemeral port so every connection from one address
// shares one rate limit bucket.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *Handler) serve(ctx context.Context, c *conn, ip string) {
	// A client gets one RATE_LIMIT warning; a second violation in a row
	// closes the connection. Connecting itself is the first charge, so an
	// exhausted bucket is warned before it even gets HELLO.
	warned := false
	if err := h.admit(ctx, c, ip, &warned); err != nil {
		return
	}

	hello := models.NewPayload(models.OpHello, models.HelloData{
		HeartbeatInterval: HeartbeatInterval,
		InstanceInfo:      models.InstanceInfoFromConf(h.Conf, false),
		RateLimit:         h.Conf.Pandemonium.RateLimit,
	})
	if err := c.send(hello); err != nil {
		return
	}

	_ = c.ws.SetReadDeadline(time.Now().Add(deadInterval))

	for {
		payload, err := h.readPayload(c)
		if err != nil {
			if errors.Is(err, errDead) {
				c.close("Client connection dead")
			}
			return
		}

		if err := h.admit(ctx, c, ip, &warned); err != nil {
			if errors.Is(err, errTooManyStrikes) {
				c.close("Client got ratelimited")
				return
			}
			continue
		}

		switch payload.Op {
		case models.OpPing:
			metrics.GatewayEvents.WithLabelValues(models.OpPing).Inc()
			_ = c.ws.SetReadDeadline(time.Now().Add(deadInterval))
			if err := c.send(models.NewPayload(models.OpPong, nil)); err != nil {
				return
			}
		case models.OpAuthenticate:
			var token string
			if err := json.Unmarshal(payload.D, &token); err != nil {
				c.close("Invalid credentials")
				return
			}
			h.authenticated(ctx, c, ip, token, warned)
			return
		default:
			// Unknown frames still count against the rate limit but are
			// otherwise ignored.
		}
	}
}

var (
	errDead           = errors.New("connection timed out")
	errTooManyStrikes = errors.New("rate limited twice in a row")
)

// readPayload reads one client frame. A frame that does not decode is not a
// protocol violation: it comes back as an empty payload, which the callers
// charge and then ignore like any unknown op.
func (h *Handler) readPayload(c *conn) (models.Payload, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.Payload{}, errDead
		}
		return models.Payload{}, err
	}
	var payload models.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debug().Err(err).Msg("unknown gateway payload")
		return models.Payload{}, nil
	}
	return payload, nil
}

// admit charges one gateway frame against the connection's rate limit
// bucket. The first violation warns the client; consecutive violations
// return errTooManyStrikes.
func (h *Handler) admit(ctx context.Context, c *conn, ip string, warned *bool) error {
	_, err := h.Limiter.Process(ctx, "pandemonium", ip, h.Conf.Pandemonium.RateLimit)
	if err == nil {
		*warned = false
		return nil
	}
	apiErr := apierror.From(err)
	if apiErr.Type != "RATE_LIMITED" {
		log.Error().Err(err).Str("ip", ip).Msg("gateway rate limit check failed")
		return nil
	}
	if *warned {
		return errTooManyStrikes
	}
	*warned = true
	metrics.GatewayEvents.WithLabelValues(models.OpRateLimit).Inc()
	return c.send(models.NewPayload(models.OpRateLimit,
		models.RateLimitData{Wait: apiErr.RetryAfter}))
}

// authenticated validates the token, registers presence and runs the
// authenticated read/forward loops until the connection dies.
func (h *Handler) authenticated(ctx context.Context, c *conn, ip, token string, warned bool) {
	session, err := h.Svc.ValidateToken(ctx, token)
	if err != nil {
		c.close("Invalid credentials")
		return
	}
	user, err := h.Svc.GetUser(ctx, session.UserID, &session.UserID)
	if err != nil {
		c.close("Invalid credentials")
		return
	}

	if err := h.connectPresence(ctx, user); err != nil {
		c.close("Server error")
		return
	}
	// Read the self view only after both loops have stopped touching it.
	defer func() { h.disconnectPresence(session.UserID, user.Status) }()

	others, err := h.Svc.OnlineUsers(ctx, session.UserID)
	if err != nil {
		c.close("Server error")
		return
	}
	metrics.GatewayEvents.WithLabelValues(models.OpAuthenticated).Inc()
	if err := c.send(models.NewPayload(models.OpAuthenticated, models.AuthenticatedData{
		User:  user,
		Users: others,
	})); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the pending read when either loop winds down.
	go func() {
		<-ctx.Done()
		_ = c.ws.SetReadDeadline(time.Now())
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, c, ip, warned)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.forwardLoop(ctx, c, &user)
	}()
	wg.Wait()
}

// connectPresence records one more live connection for the user. The first
// connection marks them online and announces their presence.
func (h *Handler) connectPresence(ctx context.Context, user models.User) error {
	count, err := h.Cache.Incr(ctx, fmt.Sprintf("session:%d", user.ID)).Result()
	if err != nil {
		log.Error().Err(err).Uint64("user_id", user.ID).Msg("failed to record gateway session")
		return err
	}
	if count != 1 {
		return nil
	}
	metrics.OnlineUsers.Inc()
	if err := h.Cache.SAdd(ctx, "sessions", user.ID).Err(); err != nil {
		log.Error().Err(err).Uint64("user_id", user.ID).Msg("failed to mark user online")
		h.Cache.Decr(ctx, fmt.Sprintf("session:%d", user.ID))
		metrics.OnlineUsers.Dec()
		return err
	}
	if user.Status.Type != models.StatusOffline {
		err := cache.PublishEvent(ctx, h.Cache, models.NewPayload(models.OpPresenceUpdate,
			models.PresenceUpdateData{UserID: user.ID, Status: user.Status}))
		if err != nil {
			log.Error().Err(err).Uint64("user_id", user.ID).Msg("failed to publish presence")
		}
	}
	return nil
}

// disconnectPresence undoes connectPresence. The last connection marks the
// user offline and, when their last-known status was visible, announces the
// change; a user who was already invisible goes quietly, mirroring the
// check in connectPresence. Runs on a fresh context since the connection's
// is gone.
func (h *Handler) disconnectPresence(userID uint64, lastStatus models.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := h.Cache.Decr(ctx, fmt.Sprintf("session:%d", userID)).Result()
	if err != nil {
		log.Error().Err(err).Uint64("user_id", userID).Msg("failed to release gateway session")
		return
	}
	if count > 0 {
		return
	}
	metrics.OnlineUsers.Dec()
	if err := h.Cache.SRem(ctx, "sessions", userID).Err(); err != nil {
		log.Error().Err(err).Uint64("user_id", userID).Msg("failed to mark user offline")
	}
	if lastStatus.Type == models.StatusOffline {
		return
	}
	err = cache.PublishEvent(ctx, h.Cache, models.NewPayload(models.OpPresenceUpdate,
		models.PresenceUpdateData{
			UserID: userID,
			Status: models.Status{Type: models.StatusOffline},
		}))
	if err != nil {
		log.Error().Err(err).Uint64("user_id", userID).Msg("failed to publish offline presence")
	}
}

// readLoop handles client frames after authentication: heartbeats and rate
// limit strikes. Anything else is charged and dropped.
func (h *Handler) readLoop(ctx context.Context, c *conn, ip string, warned bool) {
	for {
		payload, err := h.readPayload(c)
		if err != nil {
			if errors.Is(err, errDead) {
				c.close("Client connection dead")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := h.admit(ctx, c, ip, &warned); err != nil {
			if errors.Is(err, errTooManyStrikes) {
				c.close("Client got ratelimited")
			}
			return
		}
		if payload.Op == models.OpPing {
			metrics.GatewayEvents.WithLabelValues(models.OpPing).Inc()
			_ = c.ws.SetReadDeadline(time.Now().Add(deadInterval))
			if err := c.send(models.NewPayload(models.OpPong, nil)); err != nil {
				return
			}
		}
	}
}

// forwardLoop subscribes to the events channel and relays events, adjusting
// each one for this subscriber.
func (h *Handler) forwardLoop(ctx context.Context, c *conn, self *models.User) {
	pubsub := cache.SubscribeEvents(ctx, h.Cache)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var payload models.Payload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				log.Error().Err(err).Msg("malformed event on the bus")
				continue
			}
			out, forward := rewriteEvent(payload, self)
			if !forward {
				continue
			}
			metrics.GatewayEvents.WithLabelValues(out.Op).Inc()
			if err := c.send(out); err != nil {
				return
			}
		}
	}
}
