package models

import (
	"encoding/json"
	"fmt"

	"github.com/eludris/eludris/internal/config"
)

// Gateway payload tags. Clients send OpPing and OpAuthenticate; everything
// else is server-to-client. MESSAGE_CREATE, USER_UPDATE and PRESENCE_UPDATE
// also travel on the events pub/sub channel.
const (
	OpPing           = "PING"
	OpAuthenticate   = "AUTHENTICATE"
	OpPong           = "PONG"
	OpHello          = "HELLO"
	OpRateLimit      = "RATE_LIMIT"
	OpAuthenticated  = "AUTHENTICATED"
	OpMessageCreate  = "MESSAGE_CREATE"
	OpUserUpdate     = "USER_UPDATE"
	OpPresenceUpdate = "PRESENCE_UPDATE"
)

// Payload is the tagged envelope for gateway frames and bus events:
// {"op": TAG, "d": data}.
type Payload struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// NewPayload wraps data in an envelope, panicking on unserializable data.
// All payload data types are plain structs, so a failure is a programming
// error.
func NewPayload(op string, data any) Payload {
	if data == nil {
		return Payload{Op: op}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("marshal %s payload: %v", op, err))
	}
	return Payload{Op: op, D: raw}
}

// HelloData greets a fresh gateway connection.
type HelloData struct {
	HeartbeatInterval uint64               `json:"heartbeat_interval"`
	InstanceInfo      InstanceInfo         `json:"instance_info"`
	RateLimit         config.RateLimitConf `json:"rate_limit"`
}

// RateLimitData tells a gateway client how long to back off, in
// milliseconds.
type RateLimitData struct {
	Wait uint64 `json:"wait"`
}

// AuthenticatedData confirms a gateway authentication. Users holds the other
// currently-online users.
type AuthenticatedData struct {
	User  User   `json:"user"`
	Users []User `json:"users"`
}

// PresenceUpdateData announces a user's status change.
type PresenceUpdateData struct {
	UserID uint64 `json:"user_id"`
	Status Status `json:"status"`
}
