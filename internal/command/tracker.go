// Package command correlates downlink commands with the terminal replies
// that answer them, by terminal id and platform serial.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"openfms/jt808/internal/jt808"
	"openfms/jt808/internal/protocol"
	"openfms/jt808/internal/store"
)

var (
	ErrTimeout       = errors.New("command: no reply before deadline")
	ErrAlreadyQueued = errors.New("command: serial already pending for terminal")
)

// Recorder persists command history. *store.Store implements it.
type Recorder interface {
	CreateCommand(ctx context.Context, rec *store.CommandRecord) error
	UpdateCommand(ctx context.Context, id uint, status, response, errMsg string) error
}

// Pending is a command waiting for its reply
type Pending struct {
	ID       string
	DeviceID string
	Type     string
	Kind     uint16
	Serial   uint16
	SentAt   time.Time
	Deadline time.Time

	// mu orders history writes: nothing is recorded after the final status.
	mu       sync.Mutex
	final    bool
	recordID uint
	done     chan protocol.CommandResponse
}

// Wait blocks until the command is answered, times out or ctx ends.
func (p *Pending) Wait(ctx context.Context) (protocol.CommandResponse, error) {
	select {
	case resp := <-p.done:
		if resp.Status == protocol.StatusTimeout {
			return resp, ErrTimeout
		}
		return resp, nil
	case <-ctx.Done():
		return protocol.CommandResponse{}, ctx.Err()
	}
}

type key struct {
	device string
	serial uint16
}

// Tracker holds the pending command pool
type Tracker struct {
	timeout time.Duration
	log     zerolog.Logger
	rec     Recorder
	notify  func(protocol.CommandResponse)
	now     func() time.Time

	mu      sync.Mutex
	pending map[key]*Pending
}

type Option func(*Tracker)

// WithRecorder writes every state change to r
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.rec = r }
}

// WithNotify calls fn with every final response, including timeouts.
func WithNotify(fn func(protocol.CommandResponse)) Option {
	return func(t *Tracker) { t.notify = fn }
}

func NewTracker(timeout time.Duration, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		timeout: timeout,
		log:     log.With().Str("component", "command").Logger(),
		now:     time.Now,
		pending: make(map[key]*Pending),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track registers m, built from cmd, as awaiting a reply. Call it before the
// frame is written so a fast reply cannot be missed.
func (t *Tracker) Track(ctx context.Context, cmd protocol.StandardCommand, m *jt808.Message) (*Pending, error) {
	now := t.now()
	id := cmd.CommandID
	if id == "" {
		id = fmt.Sprintf("%s_%d", m.Header.TerminalID, now.UnixNano())
	}
	p := &Pending{
		ID:       id,
		DeviceID: m.Header.TerminalID,
		Type:     cmd.Type,
		Kind:     m.Header.Kind,
		Serial:   m.Header.Serial,
		SentAt:   now,
		Deadline: now.Add(t.timeout),
		done:     make(chan protocol.CommandResponse, 1),
	}
	k := key{p.DeviceID, p.Serial}

	p.mu.Lock()
	defer p.mu.Unlock()

	t.mu.Lock()
	if _, ok := t.pending[k]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s #%d", ErrAlreadyQueued, p.DeviceID, p.Serial)
	}
	t.pending[k] = p
	t.mu.Unlock()

	if t.rec != nil {
		rec := &store.CommandRecord{
			CommandID: p.ID,
			DeviceID:  p.DeviceID,
			Command:   p.Type,
			Kind:      int(p.Kind),
			Serial:    int(p.Serial),
			Params:    mustJSON(cmd.Params),
			Status:    protocol.StatusPending,
		}
		if err := t.rec.CreateCommand(ctx, rec); err != nil {
			t.log.Warn().Err(err).Str("command_id", p.ID).Msg("failed to record command")
		} else {
			p.recordID = rec.ID
		}
	}
	return p, nil
}

// Sent marks p as written to the terminal. It is a no-op once p has been
// answered, failed or timed out.
func (t *Tracker) Sent(ctx context.Context, p *Pending) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.final {
		return
	}
	t.record(ctx, p, protocol.StatusSent, "", "")
	t.log.Info().
		Str("device_id", p.DeviceID).
		Str("command_id", p.ID).
		Uint16("serial", p.Serial).
		Msgf("command %s sent", p.Type)
}

// Fail drops p because it could not be delivered
func (t *Tracker) Fail(ctx context.Context, p *Pending, cause error) {
	if !t.take(p) {
		return
	}
	resp := t.response(p, protocol.StatusFailed)
	resp.Result = cause.Error()
	t.finish(ctx, p, resp, cause.Error())
}

// Resolve completes the command sent to device with serial. It reports false
// when nothing was waiting, e.g. the reply came after the deadline.
func (t *Tracker) Resolve(ctx context.Context, device string, serial uint16, result jt808.Result, data map[string]interface{}) (protocol.CommandResponse, bool) {
	k := key{device, serial}
	t.mu.Lock()
	p, ok := t.pending[k]
	if ok {
		delete(t.pending, k)
	}
	t.mu.Unlock()
	if !ok {
		return protocol.CommandResponse{}, false
	}

	status := protocol.StatusSuccess
	errMsg := ""
	if result != jt808.ResultSuccess {
		status = protocol.StatusFailed
		errMsg = result.String()
	}
	resp := t.response(p, status)
	resp.Result = result.String()
	resp.Data = data
	t.finish(ctx, p, resp, errMsg)
	return resp, true
}

// Expire times out every command past its deadline
func (t *Tracker) Expire(ctx context.Context) []protocol.CommandResponse {
	now := t.now()
	var expired []*Pending
	t.mu.Lock()
	for k, p := range t.pending {
		if now.After(p.Deadline) {
			expired = append(expired, p)
			delete(t.pending, k)
		}
	}
	t.mu.Unlock()

	out := make([]protocol.CommandResponse, 0, len(expired))
	for _, p := range expired {
		resp := t.response(p, protocol.StatusTimeout)
		t.finish(ctx, p, resp, fmt.Sprintf("no reply within %v", t.timeout))
		out = append(out, resp)
	}
	return out
}

// Run expires commands every interval until ctx ends
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Expire(ctx)
		}
	}
}

// Len is the number of commands still waiting
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) take(p *Pending) bool {
	k := key{p.DeviceID, p.Serial}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[k] != p {
		return false
	}
	delete(t.pending, k)
	return true
}

func (t *Tracker) response(p *Pending, status string) protocol.CommandResponse {
	return protocol.CommandResponse{
		CommandID: p.ID,
		DeviceID:  p.DeviceID,
		Type:      p.Type,
		Serial:    p.Serial,
		Status:    status,
		Timestamp: t.now().Unix(),
	}
}

func (t *Tracker) finish(ctx context.Context, p *Pending, resp protocol.CommandResponse, errMsg string) {
	response := ""
	if resp.Data != nil {
		response = mustJSON(resp.Data)
	}
	p.mu.Lock()
	p.final = true
	t.record(ctx, p, resp.Status, response, errMsg)
	p.mu.Unlock()

	ev := t.log.Info()
	if resp.Status != protocol.StatusSuccess {
		ev = t.log.Warn()
	}
	ev.Str("device_id", p.DeviceID).
		Str("command_id", p.ID).
		Uint16("serial", p.Serial).
		Str("status", resp.Status).
		Dur("elapsed", t.now().Sub(p.SentAt)).
		Msgf("command %s finished", p.Type)

	p.done <- resp
	if t.notify != nil {
		t.notify(resp)
	}
}

func (t *Tracker) record(ctx context.Context, p *Pending, status, response, errMsg string) {
	if t.rec == nil || p.recordID == 0 {
		return
	}
	if err := t.rec.UpdateCommand(ctx, p.recordID, status, response, errMsg); err != nil {
		t.log.Warn().Err(err).Str("command_id", p.ID).Msg("failed to update command record")
	}
}

func mustJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
