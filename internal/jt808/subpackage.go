package jt808

import (
	"fmt"
	"sync"
	"time"
)

// DefaultAssemblyTTL bounds how long a partial subpackage set is kept.
const DefaultAssemblyTTL = 2 * time.Minute

// Limits on what one assembler holds. MaxSubpackageTotal fragments of
// MaxBodyLength bytes is about 4 MiB per message.
const (
	MaxSubpackageTotal = 4096
	MaxPendingSets     = 64
)

type assemblyKey struct {
	terminal    string
	kind        uint16
	total       uint16
	firstSerial uint16
}

type assembly struct {
	header  Header
	parts   [][]byte
	have    int
	updated time.Time
}

// Assembler joins subpackage fragments back into one message. Unlike Codec
// it keeps state, so give each connection its own or share one; it is safe
// for concurrent use either way.
type Assembler struct {
	codec      *Codec
	ttl        time.Duration
	now        func() time.Time
	maxTotal   uint16
	maxPending int

	mu      sync.Mutex
	pending map[assemblyKey]*assembly
}

// NewAssembler returns an assembler that decodes finished bodies with codec
// (the default codec when nil) and forgets partial sets idle for longer
// than ttl (DefaultAssemblyTTL when zero).
func NewAssembler(codec *Codec, ttl time.Duration) *Assembler {
	if codec == nil {
		codec = defaultCodec
	}
	if ttl <= 0 {
		ttl = DefaultAssemblyTTL
	}
	return &Assembler{
		codec:      codec,
		ttl:        ttl,
		now:        time.Now,
		maxTotal:   MaxSubpackageTotal,
		maxPending: MaxPendingSets,
		pending:    make(map[assemblyKey]*assembly),
	}
}

// Add feeds one decoded message. Messages without subpackage info come back
// unchanged with done set. For a fragment, done stays false until the last
// missing fragment arrives; the returned message then carries the header of
// the first fragment, no subpackage info and the decoded full body.
func (a *Assembler) Add(m *Message) (msg *Message, done bool, err error) {
	sp := m.Header.Subpackage
	if sp == nil {
		return m, true, nil
	}
	if sp.Total == 0 || sp.Seq == 0 || sp.Seq > sp.Total {
		return nil, false, fmt.Errorf("%w: package %d of %d", ErrInvalidSubpackage, sp.Seq, sp.Total)
	}
	if sp.Total > a.maxTotal {
		return nil, false, fmt.Errorf("%w: %d packages exceed the limit of %d", ErrInvalidSubpackage, sp.Total, a.maxTotal)
	}
	raw, ok := m.Body.(RawBody)
	if !ok {
		return nil, false, fmt.Errorf("%w: fragment body is %T", ErrInvalidSubpackage, m.Body)
	}

	key := assemblyKey{
		terminal:    m.Header.TerminalID,
		kind:        m.Header.Kind,
		total:       sp.Total,
		firstSerial: m.Header.Serial - (sp.Seq - 1),
	}

	a.mu.Lock()
	now := a.now()
	a.expireLocked(now)
	as, ok := a.pending[key]
	if !ok {
		if len(a.pending) >= a.maxPending {
			a.mu.Unlock()
			return nil, false, fmt.Errorf("%w: %d partial sets already pending", ErrInvalidSubpackage, len(a.pending))
		}
		as = &assembly{parts: make([][]byte, sp.Total)}
		a.pending[key] = as
	}
	as.updated = now
	if sp.Seq == 1 {
		as.header = m.Header
	}
	if as.parts[sp.Seq-1] == nil {
		as.have++
	}
	as.parts[sp.Seq-1] = append([]byte{}, raw...)
	if as.have < len(as.parts) {
		a.mu.Unlock()
		return nil, false, nil
	}
	delete(a.pending, key)
	a.mu.Unlock()

	var size int
	for _, p := range as.parts {
		size += len(p)
	}
	body := make([]byte, 0, size)
	for _, p := range as.parts {
		body = append(body, p...)
	}

	h := as.header
	h.Subpackage = nil
	h.Properties.Subpackaged = false
	h.Properties.BodyLength = 0 // the joined body can outgrow the 10-bit field
	out := &Message{Header: h}
	b, err := a.codec.DecodeBody(&h, body)
	if err != nil && !isWarning(err) {
		return nil, false, fmt.Errorf("decode %s body: %w", KindName(h.Kind), err)
	}
	if err != nil {
		out.Warnings = append(out.Warnings, err)
	}
	out.Body = b
	return out, true, nil
}

// Pending reports how many partial sets are held.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Expire drops partial sets idle for longer than the TTL and returns how
// many were dropped.
func (a *Assembler) Expire() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expireLocked(a.now())
}

func (a *Assembler) expireLocked(now time.Time) int {
	var n int
	for k, as := range a.pending {
		if now.Sub(as.updated) > a.ttl {
			delete(a.pending, k)
			n++
		}
	}
	return n
}
