package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"openfms/jt808/internal/jt808"
)

// Session represents a device connection
type Session struct {
	ConnID      string
	DeviceID    string
	Conn        net.Conn
	GatewayID   string
	ClientIP    string
	ConnectedAt time.Time

	assembler *jt808.Assembler

	mu         sync.RWMutex
	lastActive time.Time
	versioned  bool
	version    uint8
	serial     uint16

	writeMu sync.Mutex
}

// SessionInfo is the admin view of a session
type SessionInfo struct {
	ConnID      string    `json:"conn_id"`
	DeviceID    string    `json:"device_id"`
	ClientIP    string    `json:"client_ip"`
	Protocol    string    `json:"protocol"`
	Version     string    `json:"version"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
	Assembling  int       `json:"assembling"`
}

// NextSerial hands out the platform serial for the next downlink frame.
func (s *Session) NextSerial() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.serial
	s.serial++
	return n
}

// observe remembers which header revision the terminal speaks, so downlinks
// answer in kind.
func (s *Session) observe(h jt808.Header, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = now
	s.versioned = h.Properties.Versioned
	s.version = h.ProtocolVersion
}

func (s *Session) header() (versioned bool, version uint8) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versioned, s.version
}

// Write sends whole frames, never interleaving with another writer.
func (s *Session) Write(timeout time.Duration, frames ...[]byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout > 0 {
		s.Conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	for _, f := range frames {
		if _, err := s.Conn.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version := "2013"
	if s.versioned {
		version = fmt.Sprintf("2019(v%d)", s.version)
	}
	return SessionInfo{
		ConnID:      s.ConnID,
		DeviceID:    s.DeviceID,
		ClientIP:    s.ClientIP,
		Protocol:    "JT808",
		Version:     version,
		ConnectedAt: s.ConnectedAt,
		LastActive:  s.lastActive,
		Assembling:  s.assembler.Pending(),
	}
}

// SessionStore shares session ownership and the device shadow with the rest
// of the platform
type SessionStore interface {
	Register(ctx context.Context, deviceID, value string, ttl time.Duration) error
	Refresh(ctx context.Context, deviceID string, ttl time.Duration, shadow map[string]interface{}) error
	Remove(ctx context.Context, deviceID string) error
}

const shadowTTL = 24 * time.Hour

func sessionKey(deviceID string) string { return fmt.Sprintf("fms:sess:%s", deviceID) }
func shadowKey(deviceID string) string { return fmt.Sprintf("fms:shadow:%s", deviceID) }

// RedisSessionStore keeps fms:sess:<id> with a TTL and the fms:shadow:<id> hash
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (r *RedisSessionStore) Register(ctx context.Context, deviceID, value string, ttl time.Duration) error {
	return r.client.Set(ctx, sessionKey(deviceID), value, ttl).Err()
}

func (r *RedisSessionStore) Refresh(ctx context.Context, deviceID string, ttl time.Duration, shadow map[string]interface{}) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, sessionKey(deviceID), ttl)
		if len(shadow) > 0 {
			pipe.HSet(ctx, shadowKey(deviceID), shadow)
			pipe.Expire(ctx, shadowKey(deviceID), shadowTTL)
		}
		return nil
	})
	return err
}

func (r *RedisSessionStore) Remove(ctx context.Context, deviceID string) error {
	return r.client.Del(ctx, sessionKey(deviceID)).Err()
}

type nopSessionStore struct{}

func (nopSessionStore) Register(context.Context, string, string, time.Duration) error { return nil }
func (nopSessionStore) Refresh(context.Context, string, time.Duration, map[string]interface{}) error {
	return nil
}
func (nopSessionStore) Remove(context.Context, string) error { return nil }
