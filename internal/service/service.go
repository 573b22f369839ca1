// Package service implements the domain logic behind the REST API and the
// gateway: users, sessions, messages and scheduled maintenance.
package service

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/email"
	"github.com/eludris/eludris/internal/ids"
)

// Service bundles the immutable runtime dependencies. It is constructed once
// at boot and shared by reference.
type Service struct {
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Conf   *config.Conf
	IDs    *ids.Generator
	Secret []byte
	// Mailer is nil when the instance has no email configured.
	Mailer email.Mailer

	// randCode is swappable in tests.
	randCode func() uint32
}

// New wires a Service.
func New(db *pgxpool.Pool, cache *redis.Client, conf *config.Conf, gen *ids.Generator, secret []byte, mailer email.Mailer) *Service {
	return &Service{
		DB:       db,
		Cache:    cache,
		Conf:     conf,
		IDs:      gen,
		Secret:   secret,
		Mailer:   mailer,
		randCode: randomCode,
	}
}

// randomCode draws a uniform six-digit code.
func randomCode() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("read crypto/rand: " + err.Error())
	}
	return 100000 + binary.BigEndian.Uint32(buf[:])%900000
}
