package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openfms/jt808/internal/command"
	"openfms/jt808/internal/config"
	"openfms/jt808/internal/jt808"
	"openfms/jt808/internal/logging"
	"openfms/jt808/internal/protocol"
	"openfms/jt808/internal/store"
)

const terminal = "628076842334"

type fakeSessions struct {
	mu         sync.Mutex
	registered map[string]string
	shadows    map[string]map[string]interface{}
	removed    []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		registered: make(map[string]string),
		shadows:    make(map[string]map[string]interface{}),
	}
}

func (f *fakeSessions) Register(_ context.Context, deviceID, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[deviceID] = value
	return nil
}

func (f *fakeSessions) Refresh(_ context.Context, deviceID string, _ time.Duration, shadow map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shadows[deviceID] = shadow
	return nil
}

func (f *fakeSessions) Remove(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, deviceID)
	return nil
}

func (f *fakeSessions) shadow(deviceID string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shadows[deviceID]
}

func (f *fakeSessions) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type published struct {
	subject string
	data    []byte
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeBus) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject, append([]byte(nil), data...)})
	return nil
}

func (f *fakeBus) on(subject string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.msgs {
		if m.subject == subject {
			out = append(out, m.data)
		}
	}
	return out
}

type fakeCommands struct {
	mu        sync.Mutex
	created   []store.CommandRecord
	statuses  []string
	history   []store.CommandRecord
	lastQuery string
	lastLimit int
}

func (f *fakeCommands) CreateCommand(_ context.Context, rec *store.CommandRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = uint(len(f.created) + 1)
	f.created = append(f.created, *rec)
	return nil
}

func (f *fakeCommands) UpdateCommand(_ context.Context, _ uint, status, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeCommands) CommandHistory(_ context.Context, deviceID string, limit int) ([]store.CommandRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = deviceID
	f.lastLimit = limit
	return f.history, nil
}

func (f *fakeCommands) statusList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses...)
}

type harness struct {
	srv      *TCPServer
	sessions *fakeSessions
	bus      *fakeBus
	commands *fakeCommands
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.ReadTimeout = 5 * time.Second
	for _, m := range mutate {
		m(cfg)
	}
	h := &harness{
		sessions: newFakeSessions(),
		bus:      &fakeBus{},
		commands: &fakeCommands{},
	}
	h.srv = NewTCPServer(cfg, logging.ConfigureTests(), Deps{
		Sessions: h.sessions,
		Bus:      h.bus,
		Commands: h.commands,
	})
	t.Cleanup(h.srv.Stop)
	return h
}

// terminalConn is the device end of a piped connection.
type terminalConn struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
	done    chan struct{}
	serial  uint16
}

func (h *harness) connect(t *testing.T) *terminalConn {
	t.Helper()
	serverSide, deviceSide := net.Pipe()
	sess := h.srv.newSession(serverSide)
	done := make(chan struct{})
	go func() {
		h.srv.handleConnection(sess)
		close(done)
	}()
	sc := bufio.NewScanner(deviceSide)
	sc.Split(jt808.ScanFrames)
	tc := &terminalConn{t: t, conn: deviceSide, scanner: sc, done: done, serial: 1}
	t.Cleanup(func() { deviceSide.Close() })
	return tc
}

func (c *terminalConn) send(m *jt808.Message) {
	c.t.Helper()
	frame, err := jt808.Encode(m)
	require.NoError(c.t, err)
	c.write(frame)
}

func (c *terminalConn) write(frame []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *terminalConn) next() *jt808.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.True(c.t, c.scanner.Scan(), "no frame from gateway: %v", c.scanner.Err())
	m, err := jt808.Decode(c.scanner.Bytes())
	require.NoError(c.t, err)
	return m
}

func (c *terminalConn) nextSerial() uint16 {
	n := c.serial
	c.serial++
	return n
}

func (c *terminalConn) heartbeat() *jt808.Message {
	return jt808.NewMessage(jt808.KindHeartbeat, terminal, c.nextSerial(), jt808.Heartbeat{})
}

func TestUplinkAckAndPublish(t *testing.T) {
	h := newHarness(t)
	dev := h.connect(t)

	dev.send(dev.heartbeat())
	ack := dev.next()
	assert.Equal(t, jt808.KindPlatformResponse, ack.Header.Kind)
	assert.Equal(t, terminal, ack.Header.TerminalID)
	assert.Equal(t, jt808.GeneralResponse{ReplySerial: 1, ReplyKind: jt808.KindHeartbeat, Result: jt808.ResultSuccess}, ack.Body)

	assert.Eventually(t, func() bool { return len(h.bus.on(SubjectUplinkAll)) == 1 }, 2*time.Second, 10*time.Millisecond)
	var msg protocol.StandardMessage
	require.NoError(t, json.Unmarshal(h.bus.on("fms.uplink.HEARTBEAT")[0], &msg))
	assert.Equal(t, terminal, msg.DeviceID)
	assert.Equal(t, "JT808", msg.Protocol)

	h.sessions.mu.Lock()
	assert.Contains(t, h.sessions.registered[terminal], "node-01:node-01-")
	h.sessions.mu.Unlock()

	_, ok := h.srv.session(terminal)
	assert.True(t, ok)
}

func TestLocationAlarmAckAndShadow(t *testing.T) {
	h := newHarness(t)
	dev := h.connect(t)

	report := jt808.LocationReport{
		Alarm:     jt808.AlarmEmergency,
		Status:    jt808.StatusFixed,
		Latitude:  22543096,
		Longitude: 114057865,
		Speed:     355,
		Time:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	dev.send(jt808.NewMessage(jt808.KindLocationReport, terminal, dev.nextSerial(), report))

	ack := dev.next()
	body := ack.Body.(jt808.GeneralResponse)
	assert.Equal(t, jt808.ResultAlarmAck, body.Result)
	assert.Equal(t, jt808.KindLocationReport, body.ReplyKind)

	assert.Eventually(t, func() bool { return h.sessions.shadow(terminal) != nil }, 2*time.Second, 10*time.Millisecond)
	shadow := h.sessions.shadow(terminal)
	assert.Equal(t, protocol.MsgTypeAlarm, shadow["type"])
	assert.InDelta(t, 22.543096, shadow["lat"], 1e-9)
	assert.InDelta(t, 35.5, shadow["speed"], 1e-9)
	assert.Len(t, h.bus.on("fms.uplink.ALARM"), 1)
}

func TestRegistrationGetsAuthCode(t *testing.T) {
	h := newHarness(t)
	dev := h.connect(t)

	reg := jt808.NewMessage(jt808.KindTerminalRegister, terminal, dev.nextSerial(), jt808.TerminalRegistration{
		Province:     44,
		City:         300,
		Manufacturer: "ULV",
		Model:        "T100",
		DeviceID:     "D000001",
		PlateColor:   1,
		Plate:        "粤B12345",
	}).Versioned(1)
	dev.send(reg)

	reply := dev.next()
	assert.Equal(t, jt808.KindRegisterResponse, reply.Header.Kind)
	assert.True(t, reply.Header.Properties.Versioned)
	assert.Equal(t, uint8(1), reply.Header.ProtocolVersion)
	assert.Equal(t, jt808.RegistrationResponse{ReplySerial: 1, Result: jt808.RegistrationSuccess, AuthCode: terminal}, reply.Body)
}

func TestBadFrameKeepsConnection(t *testing.T) {
	h := newHarness(t)
	dev := h.connect(t)

	frame, err := jt808.Encode(dev.heartbeat())
	require.NoError(t, err)
	frame[len(frame)-2] ^= 0xFF // checksum
	dev.write(frame)
	dev.write([]byte{0x01, 0x02, 0x03})

	dev.send(dev.heartbeat())
	ack := dev.next()
	assert.Equal(t, uint16(2), ack.Body.(jt808.GeneralResponse).ReplySerial)
}

func TestCommandRoundTrip(t *testing.T) {
	h := newHarness(t)
	dev := h.connect(t)
	dev.send(dev.heartbeat().Versioned(1))
	dev.next()

	type result struct {
		p   *command.Pending
		err error
	}
	sent := make(chan result, 1)
	go func() {
		p, err := h.srv.SendCommand(context.Background(), protocol.StandardCommand{
			CommandID: "cmd-42",
			DeviceID:  "0" + terminal,
			Type:      protocol.CmdTerminalControl,
			Params:    map[string]interface{}{"command": "restart"},
		})
		sent <- result{p, err}
	}()

	down := dev.next()
	res := <-sent
	require.NoError(t, res.err)
	assert.Equal(t, jt808.KindTerminalControl, down.Header.Kind)
	assert.True(t, down.Header.Properties.Versioned, "downlink follows the terminal's header revision")
	assert.Equal(t, jt808.TerminalControl{Command: jt808.ControlRestart}, down.Body)
	assert.Equal(t, down.Header.Serial, res.p.Serial)

	dev.send(jt808.NewMessage(jt808.KindTerminalResponse, terminal, dev.nextSerial(), jt808.GeneralResponse{
		ReplySerial: down.Header.Serial,
		ReplyKind:   jt808.KindTerminalControl,
		Result:      jt808.ResultSuccess,
	}).Versioned(1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := res.p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cmd-42", resp.CommandID)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)

	assert.Eventually(t, func() bool { return len(h.bus.on(SubjectCommandResponse)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{protocol.StatusSent, protocol.StatusSuccess}, h.commands.statusList())
	assert.Equal(t, 0, h.srv.Tracker().Len())
}

func TestSendCommandErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.srv.SendCommand(context.Background(), protocol.StandardCommand{DeviceID: terminal, Type: protocol.CmdLocationQuery})
	assert.ErrorIs(t, err, ErrNotConnected)

	dev := h.connect(t)
	dev.send(dev.heartbeat())
	dev.next()

	_, err = h.srv.SendCommand(context.Background(), protocol.StandardCommand{DeviceID: terminal, Type: "SELF_DESTRUCT"})
	assert.ErrorContains(t, err, "unsupported command type")
	assert.Equal(t, 0, h.srv.Tracker().Len())
}

func TestDisconnectRemovesSession(t *testing.T) {
	h := newHarness(t)
	dev := h.connect(t)
	dev.send(dev.heartbeat())
	dev.next()

	dev.conn.Close()
	select {
	case <-dev.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not return")
	}
	assert.Equal(t, []string{terminal}, h.sessions.removedIDs())
	_, ok := h.srv.session(terminal)
	assert.False(t, ok)
}

func TestReconnectReplacesSession(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t)
	first.send(first.heartbeat())
	first.next()

	second := h.connect(t)
	second.send(second.heartbeat())
	second.next()

	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("old connection was not closed")
	}
	assert.Empty(t, h.sessions.removedIDs(), "the new connection keeps the registration")
	sess, ok := h.srv.session(terminal)
	require.True(t, ok)
	assert.Equal(t, "node-01-2", sess.ConnID)
}

func TestHandleDownlinkUnknownDevice(t *testing.T) {
	h := newHarness(t)

	h.srv.HandleDownlink([]byte(`{"command_id":"c-1","device_id":"13800000000","type":"LOCATION_QUERY"}`))
	h.srv.HandleDownlink([]byte(`not json`))

	msgs := h.bus.on(SubjectCommandResponse)
	require.Len(t, msgs, 1)
	var resp protocol.CommandResponse
	require.NoError(t, json.Unmarshal(msgs[0], &resp))
	assert.Equal(t, "c-1", resp.CommandID)
	assert.Equal(t, protocol.StatusFailed, resp.Status)
	assert.Contains(t, resp.Result, "not connected")
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.GatewayPort = 0
		c.HTTPPort = 0
	})
	require.NoError(t, h.srv.Start())
	tcpAddr := h.srv.listener.Addr().String()
	httpAddr := h.srv.httpListener.Addr().String()

	resp, err := http.Get("http://" + httpAddr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h.srv.Stop()

	_, err = net.DialTimeout("tcp", httpAddr, time.Second)
	assert.Error(t, err, "admin API still accepting after Stop")
	_, err = net.DialTimeout("tcp", tcpAddr, time.Second)
	assert.Error(t, err, "terminal port still accepting after Stop")
}

func TestStopRightAfterStart(t *testing.T) {
	for i := 0; i < 20; i++ {
		srv := NewTCPServer(&config.Config{GatewayID: "node-01", CommandTimeout: time.Second}, logging.ConfigureTests(), Deps{})
		require.NoError(t, srv.Start())
		httpAddr := srv.httpListener.Addr().String()
		srv.Stop()

		_, err := net.DialTimeout("tcp", httpAddr, time.Second)
		assert.Error(t, err)
	}
}
