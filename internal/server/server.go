package server

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"openfms/jt808/internal/adapter"
	"openfms/jt808/internal/command"
	"openfms/jt808/internal/config"
	"openfms/jt808/internal/jt808"
	"openfms/jt808/internal/protocol"
	"openfms/jt808/internal/store"
)

const (
	SubjectUplinkAll       = "fms.uplink.all"
	SubjectCommandResponse = "fms.command.response"

	// maxFrame bounds one escaped frame: a 1023-byte body with a 2019
	// header, every byte doubled.
	maxFrame = 4096

	writeTimeout = 10 * time.Second
)

var ErrNotConnected = errors.New("device not connected")

func uplinkSubject(msgType string) string { return "fms.uplink." + msgType }

func downlinkSubject(gatewayID string) string { return "gateway.downlink." + gatewayID }

// Publisher is the part of *nats.Conn the gateway publishes through
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CommandStore is the command history. *store.Store implements it.
type CommandStore interface {
	command.Recorder
	CommandHistory(ctx context.Context, deviceID string, limit int) ([]store.CommandRecord, error)
}

// Deps are the gateway's outside connections. Nil members are skipped.
type Deps struct {
	Sessions SessionStore
	Bus      Publisher
	NATS     *nats.Conn // downlink subscription
	Commands CommandStore
}

// TCPServer handles TCP connections from JT808 terminals
type TCPServer struct {
	config   *config.Config
	log      zerolog.Logger
	adapter  *adapter.JT808Adapter
	store    SessionStore
	bus      Publisher
	nats     *nats.Conn
	commands CommandStore
	tracker  *command.Tracker
	sessions sync.Map // device id -> *Session
	conns    sync.Map // conn id -> *Session
	connSeq  atomic.Uint64
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	http         *http.Server
	httpListener net.Listener
}

// NewTCPServer creates a new TCP server
func NewTCPServer(cfg *config.Config, log zerolog.Logger, deps Deps) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	var opts []jt808.Option
	if !cfg.ChecksumStrict {
		opts = append(opts, jt808.WithLenientChecksum())
	}
	s := &TCPServer{
		config:   cfg,
		log:      log.With().Str("component", "gateway").Str("gateway_id", cfg.GatewayID).Logger(),
		adapter:  adapter.NewJT808Adapter(jt808.NewCodec(opts...)),
		store:    deps.Sessions,
		bus:      deps.Bus,
		nats:     deps.NATS,
		commands: deps.Commands,
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.store == nil {
		s.store = nopSessionStore{}
	}
	if s.bus == nil && deps.NATS != nil {
		s.bus = deps.NATS
	}

	trackerOpts := []command.Option{command.WithNotify(s.publishResponse)}
	if s.commands != nil {
		trackerOpts = append(trackerOpts, command.WithRecorder(s.commands))
	}
	s.tracker = command.NewTracker(cfg.CommandTimeout, log, trackerOpts...)
	return s
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.GatewayPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	httpAddr := fmt.Sprintf(":%d", s.config.HTTPPort)
	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}
	s.listener = listener
	s.httpListener = httpListener
	s.http = &http.Server{Handler: s.Router()}
	s.log.Info().Str("addr", listener.Addr().String()).Msg("TCP server listening")

	go s.serveHTTP(s.http, httpListener)
	if s.nats != nil {
		go s.startDownlinkConsumer()
	}
	go s.tracker.Run(s.ctx, time.Second)
	go s.acceptLoop()
	return nil
}

// Stop stops the TCP server
func (s *TCPServer) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(ctx)
		// Serve may not have picked the listener up yet
		s.httpListener.Close()
	}
	s.conns.Range(func(_, value interface{}) bool {
		value.(*Session).Conn.Close()
		return true
	})
}

// Tracker exposes the pending command pool
func (s *TCPServer) Tracker() *command.Tracker {
	return s.tracker
}

func (s *TCPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.log.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go s.handleConnection(s.newSession(conn))
	}
}

func (s *TCPServer) newSession(conn net.Conn) *Session {
	now := time.Now()
	sess := &Session{
		ConnID:      fmt.Sprintf("%s-%d", s.config.GatewayID, s.connSeq.Add(1)),
		Conn:        conn,
		GatewayID:   s.config.GatewayID,
		ClientIP:    conn.RemoteAddr().String(),
		ConnectedAt: now,
		assembler:   jt808.NewAssembler(s.adapter.Codec(), s.config.AssemblyTTL),
		lastActive:  now,
	}
	s.conns.Store(sess.ConnID, sess)
	return sess
}

func (s *TCPServer) handleConnection(sess *Session) {
	defer func() {
		s.cleanupSession(sess)
		sess.Conn.Close()
	}()

	s.log.Info().Str("conn_id", sess.ConnID).Str("client_ip", sess.ClientIP).Msg("new connection")

	scanner := bufio.NewScanner(sess.Conn)
	scanner.Buffer(make([]byte, 0, 1024), maxFrame)
	scanner.Split(jt808.ScanFrames)
	for {
		if s.config.ReadTimeout > 0 {
			sess.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Warn().Err(err).Str("conn_id", sess.ConnID).Msg("read error")
			}
			return
		}
		s.handleFrame(sess, scanner.Bytes())
	}
}

func (s *TCPServer) handleFrame(sess *Session, frame []byte) {
	m, err := s.adapter.Codec().Decode(frame)
	if err != nil {
		// one bad frame never ends the connection
		s.log.Warn().Err(err).
			Str("conn_id", sess.ConnID).
			Str("frame", hex.EncodeToString(frame)).
			Msg("dropping undecodable frame")
		return
	}
	sess.observe(m.Header, time.Now())
	s.bind(sess, m.Header.TerminalID)

	// every fragment is acknowledged on its own
	if reply, ok := s.adapter.Ack(m, sess.NextSerial(), m.Header.TerminalID); ok {
		s.send(sess, reply)
	}

	full, done, err := sess.assembler.Add(m)
	if err != nil {
		s.log.Warn().Err(err).Str("device_id", sess.DeviceID).Msg("dropping fragment")
		return
	}
	if !done {
		return
	}

	msg := s.adapter.Standardize(full)
	for _, w := range msg.Warnings {
		s.log.Warn().Str("device_id", msg.DeviceID).Str("kind", jt808.KindName(full.Header.Kind)).Msg(w)
	}

	if serial, result, ok := adapter.Reply(full); ok {
		if _, matched := s.tracker.Resolve(s.ctx, sess.DeviceID, serial, result, msg.Extras); !matched {
			s.log.Debug().Str("device_id", sess.DeviceID).Uint16("serial", serial).Msg("reply matches no pending command")
		}
	}

	s.refresh(sess, msg)
	s.publish(msg)
}

// bind attaches the connection to its terminal on the first decoded frame.
// A reconnecting terminal takes over from its previous connection.
func (s *TCPServer) bind(sess *Session, deviceID string) {
	if sess.DeviceID != "" {
		return
	}
	sess.DeviceID = deviceID
	if prev, loaded := s.sessions.Swap(deviceID, sess); loaded && prev.(*Session) != sess {
		s.log.Info().Str("device_id", deviceID).Str("conn_id", prev.(*Session).ConnID).Msg("replacing previous connection")
		prev.(*Session).Conn.Close()
	}

	value := fmt.Sprintf("%s:%s:%s", sess.GatewayID, sess.ConnID, sess.ClientIP)
	if err := s.store.Register(s.ctx, deviceID, value, s.config.SessionTTL); err != nil {
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("failed to register session")
		return
	}
	s.log.Info().Str("device_id", deviceID).Str("session", value).Msg("session registered")
}

func (s *TCPServer) refresh(sess *Session, msg *protocol.StandardMessage) {
	shadow := map[string]interface{}{
		"ts":   time.Now().Unix(),
		"type": msg.Type,
	}
	if msg.Type == protocol.MsgTypeLocation || msg.Type == protocol.MsgTypeAlarm {
		shadow["lat"] = msg.Lat
		shadow["lon"] = msg.Lon
		shadow["speed"] = msg.Speed
		shadow["direction"] = msg.Direction
		shadow["gps_ts"] = msg.Timestamp
	}
	if err := s.store.Refresh(s.ctx, sess.DeviceID, s.config.SessionTTL, shadow); err != nil {
		s.log.Warn().Err(err).Str("device_id", sess.DeviceID).Msg("failed to refresh session")
	}
}

func (s *TCPServer) publish(msg *protocol.StandardMessage) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal message")
		return
	}
	for _, subject := range []string{uplinkSubject(msg.Type), SubjectUplinkAll} {
		if err := s.bus.Publish(subject, data); err != nil {
			s.log.Warn().Err(err).Str("subject", subject).Msg("publish failed")
		}
	}
	s.log.Debug().Str("device_id", msg.DeviceID).Str("type", msg.Type).Msg("published")
}

func (s *TCPServer) publishResponse(resp protocol.CommandResponse) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.bus.Publish(SubjectCommandResponse, data); err != nil {
		s.log.Warn().Err(err).Str("command_id", resp.CommandID).Msg("failed to publish command response")
	}
}

func (s *TCPServer) send(sess *Session, m *jt808.Message) error {
	frame, err := s.adapter.Codec().Encode(m)
	if err != nil {
		s.log.Error().Err(err).Str("kind", jt808.KindName(m.Header.Kind)).Msg("encode failed")
		return err
	}
	if err := sess.Write(writeTimeout, frame); err != nil {
		s.log.Warn().Err(err).Str("conn_id", sess.ConnID).Msg("write failed")
		return err
	}
	return nil
}

func (s *TCPServer) cleanupSession(sess *Session) {
	s.log.Info().Str("conn_id", sess.ConnID).Str("device_id", sess.DeviceID).Msg("connection closed")
	s.conns.Delete(sess.ConnID)
	if sess.DeviceID == "" {
		return
	}
	// a newer connection of the same terminal keeps its registration
	if !s.sessions.CompareAndDelete(sess.DeviceID, sess) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Remove(ctx, sess.DeviceID); err != nil {
		s.log.Warn().Err(err).Str("device_id", sess.DeviceID).Msg("failed to remove session")
	}
}

func (s *TCPServer) session(deviceID string) (*Session, bool) {
	value, ok := s.sessions.Load(jt808.NormalizeTerminalID(deviceID))
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

// SendCommand encodes cmd for its terminal, writes it and returns the pending
// entry to wait on. General acks expect no reply and return a nil Pending.
func (s *TCPServer) SendCommand(ctx context.Context, cmd protocol.StandardCommand) (*command.Pending, error) {
	sess, ok := s.session(cmd.DeviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, cmd.DeviceID)
	}
	m, err := s.adapter.Command(cmd, sess.NextSerial())
	if err != nil {
		return nil, err
	}
	if versioned, version := sess.header(); versioned {
		m.Versioned(version)
	}
	frame, err := s.adapter.Codec().Encode(m)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", cmd.Type, err)
	}

	var p *command.Pending
	if cmd.Type != protocol.CmdGeneralAck {
		if p, err = s.tracker.Track(ctx, cmd, m); err != nil {
			return nil, err
		}
	}
	if err := sess.Write(writeTimeout, frame); err != nil {
		if p != nil {
			s.tracker.Fail(ctx, p, err)
		}
		return nil, fmt.Errorf("send to %s: %w", sess.DeviceID, err)
	}
	if p != nil {
		s.tracker.Sent(ctx, p)
	}
	return p, nil
}

// HandleDownlink runs one command delivered on gateway.downlink.<id>
func (s *TCPServer) HandleDownlink(data []byte) {
	var cmd protocol.StandardCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.log.Warn().Err(err).Msg("failed to unmarshal command")
		return
	}
	if _, err := s.SendCommand(s.ctx, cmd); err != nil {
		s.log.Warn().Err(err).Str("device_id", cmd.DeviceID).Str("type", cmd.Type).Msg("downlink command not sent")
		if cmd.CommandID != "" {
			s.publishResponse(protocol.CommandResponse{
				CommandID: cmd.CommandID,
				DeviceID:  cmd.DeviceID,
				Type:      cmd.Type,
				Status:    protocol.StatusFailed,
				Result:    err.Error(),
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

func (s *TCPServer) startDownlinkConsumer() {
	subject := downlinkSubject(s.config.GatewayID)
	sub, err := s.nats.Subscribe(subject, func(msg *nats.Msg) {
		s.HandleDownlink(msg.Data)
	})
	if err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("failed to subscribe to downlink")
		return
	}
	s.log.Info().Str("subject", subject).Msg("downlink consumer started")

	<-s.ctx.Done()
	sub.Unsubscribe()
}
