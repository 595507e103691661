// Package session owns the cluster connection lifecycle: dialing, the login
// prompt exchange, keepalive probing, and reconnect-on-failure. Inbound
// bytes are reassembled into lines, classified, and republished as tagged
// events over a channel; the session never interprets spot payloads itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dxwatch/dxwatch/internal/classify"
	"github.com/dxwatch/dxwatch/internal/stats"
	"github.com/dxwatch/dxwatch/internal/transport"
	"github.com/dxwatch/dxwatch/internal/types"
)

// ErrNotConnected is returned by Send when no transport is open.
var ErrNotConnected = errors.New("session: not connected")

// EventKind tags an event emitted by the session.
type EventKind int

const (
	EventConnected EventKind = iota
	EventWaiting
	EventDisconnected
	EventClusterKind
	EventLoggedOn
	EventSpot     // live "DX de" announcement, raw line attached
	EventSpotList // tabular listing row, raw line attached
	EventInvalid  // cluster rejected a command
	EventInfo
)

// Event is one tagged message from the session to its consumer.
type Event struct {
	Kind    EventKind
	Message string
	Cluster types.ClusterKind // populated for EventClusterKind
}

// Config carries the operator identity and the session timing knobs.
type Config struct {
	Operator types.Operator

	// KeepaliveInterval is how often the idle check runs.
	KeepaliveInterval time.Duration
	// IdlePing is the quiet period after which an innocuous command is sent.
	IdlePing time.Duration
	// IdleReset is the quiet period after which the connection is recycled.
	IdleReset time.Duration
	// ReconnectDelay lets the transport settle before redialing.
	ReconnectDelay time.Duration
	// KeepaliveCommand is the innocuous command sent when idle.
	KeepaliveCommand string

	// RawTap, when set, receives every inbound line before classification.
	RawTap func(line string)
}

func (c *Config) applyDefaults() {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 300 * time.Second
	}
	if c.IdlePing <= 0 {
		c.IdlePing = 5 * time.Minute
	}
	if c.IdleReset <= 0 {
		c.IdleReset = 15 * time.Minute
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 250 * time.Millisecond
	}
	if c.KeepaliveCommand == "" {
		c.KeepaliveCommand = "show/time"
	}
}

// Session is the connection state machine. All state mutations are guarded
// by one mutex; the read loop, the keepalive ticker and UI commands all
// funnel through it.
type Session struct {
	cfg    Config
	dialer transport.Dialer
	logger *zap.Logger
	stats  *stats.Stats

	events chan Event

	mu             sync.Mutex
	closed         bool
	state          types.SessionState
	conn           transport.Conn
	gen            uuid.UUID // generation token of the live connection
	currentCmd     types.CommandType
	keepaliveStop  context.CancelFunc
	reconnectTimer *time.Timer
	wg             sync.WaitGroup
}

// New creates a session around the given dialer. The zero Config values are
// replaced with the protocol defaults.
func New(cfg Config, dialer transport.Dialer, logger *zap.Logger, st *stats.Stats) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		st = stats.New()
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		stats:  st,
		events: make(chan Event, 256),
	}
}

// Events returns the channel of tagged session events. The channel is never
// closed; consumers select against their own context.
func (s *Session) Events() <-chan Event { return s.events }

// State returns a copy of the current session state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the cluster at addr. An established session signs off and
// is torn down first, and a pending reconnect timer from a previous failure
// is cancelled so a fresh connect never races a stale redial. The
// generation token is claimed before dialing: a competing dial still in
// flight comes back stale and discards its connection instead of
// overwriting the winner.
func (s *Session) Connect(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session: closed")
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.teardownLocked()
	gen := uuid.New()
	s.gen = gen
	s.state.Phase = types.PhaseConnecting
	s.state.RemoteAddress = addr
	s.mu.Unlock()
	sayGoodbye(conn)

	c, err := s.dialer.Dial(ctx, addr)
	if err != nil {
		return s.handleDialError(gen, addr, err)
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		closeQuietly(c)
		return errors.New("session: connect superseded")
	}
	s.conn = c
	s.state.Phase = types.PhaseAwaitingLogin
	s.state.Cluster = types.ClusterUnknown
	s.state.ConnectionNew = true
	s.state.LoggedOn = false
	s.state.LastSpotAt = time.Now()

	kctx, cancel := context.WithCancel(context.Background())
	s.keepaliveStop = cancel
	s.wg.Add(2)
	s.mu.Unlock()

	go s.readLoop(gen, c)
	go s.keepaliveLoop(kctx, gen)

	s.emit(Event{Kind: EventConnected, Message: "Connected to " + addr})
	return nil
}

// Disconnect sends a polite "bye", closes the transport and returns the
// session to idle. Calling it while already idle is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state.Phase == types.PhaseIdle {
		s.mu.Unlock()
		return
	}
	s.state.Phase = types.PhaseDisconnecting
	conn := s.teardownLocked()
	s.state.Phase = types.PhaseIdle
	s.mu.Unlock()

	sayGoodbye(conn)
}

// Close disconnects, refuses further connects and waits for the read and
// keepalive goroutines to drain. The event channel stays open.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Disconnect()
	s.wg.Wait()
}

// Send writes one line to the cluster, tagged with a command type and
// terminated CRLF.
func (s *Session) Send(text string, cmd types.CommandType) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.currentCmd = cmd
	s.mu.Unlock()

	if _, err := conn.Write([]byte(text + "\r\n")); err != nil {
		return fmt.Errorf("send %q: %w", text, err)
	}
	return nil
}

// teardownLocked invalidates the connection generation, stops the keepalive
// ticker and any pending reconnect, and hands back the open transport for
// the caller to close outside the lock.
func (s *Session) teardownLocked() transport.Conn {
	s.gen = uuid.Nil
	if s.keepaliveStop != nil {
		s.keepaliveStop()
		s.keepaliveStop = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.state.LoggedOn = false
	return conn
}

func (s *Session) readLoop(gen uuid.UUID, conn transport.Conn) {
	defer s.wg.Done()

	buf := make([]byte, 4096)
	var pending strings.Builder
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			chunk := pending.String()
			lines := strings.Split(chunk, "\n")
			pending.Reset()
			// The last element may be a partial line; keep it for the
			// next read.
			pending.WriteString(lines[len(lines)-1])
			for _, line := range lines[:len(lines)-1] {
				line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
				if line == "" {
					continue
				}
				s.stats.IncrementTotalLines()
				if s.cfg.RawTap != nil {
					s.cfg.RawTap(line)
				}
				s.handleLine(gen, line)
			}
		}
		if err != nil {
			s.handleReadError(gen, err)
			return
		}
	}
}

// handleLine classifies one inbound line and advances the login state
// machine or republishes the line as an event.
func (s *Session) handleLine(gen uuid.UUID, line string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	// A reply that arrives while the last command was the keepalive ping is
	// routine; clear the tag so it is not misattributed.
	if s.currentCmd == types.CmdKeepAlive {
		s.currentCmd = types.CmdIgnore
	}
	st := s.state
	s.mu.Unlock()

	switch classify.Classify(line, st) {
	case classify.Login, classify.AskCall:
		s.setPhase(gen, types.PhaseLoggingIn)
		if err := s.Send(s.cfg.Operator.Callsign, types.CmdLogon); err != nil {
			s.logger.Warn("login reply failed", zap.Error(err))
		}
	case classify.AskName:
		s.sendIfLoggedOn("set/name "+s.cfg.Operator.Name, st)
	case classify.AskQth:
		s.sendIfLoggedOn("set/qth "+s.cfg.Operator.QTH, st)
	case classify.AskLocation:
		s.sendIfLoggedOn("set/qra "+s.cfg.Operator.Grid, st)
	case classify.Confirm:
		if err := s.Send("Y", types.CmdYes); err != nil {
			s.logger.Warn("confirmation reply failed", zap.Error(err))
		}
	case classify.BannerLine:
		s.markLoggedOn(gen)
	case classify.LiveSpot:
		s.touchSpotClock(gen)
		s.emit(Event{Kind: EventSpot, Message: line})
	case classify.TabularSpot:
		s.touchSpotClock(gen)
		s.emit(Event{Kind: EventSpotList, Message: line})
	case classify.InvalidCommand:
		s.emit(Event{Kind: EventInvalid, Message: line})
	case classify.ClusterBanner:
		s.markClusterKind(gen, line)
	default:
		s.stats.IncrementStatusMessages()
		s.emit(Event{Kind: EventInfo, Message: line})
	}
}

func (s *Session) sendIfLoggedOn(cmd string, st types.SessionState) {
	if !st.LoggedOn {
		return
	}
	if err := s.Send(cmd, types.CmdMessage); err != nil {
		s.logger.Warn("station detail command failed", zap.Error(err))
	}
}

// markLoggedOn flips the logged-on flag exactly once per connection;
// repeated prompt banners are ignored.
func (s *Session) markLoggedOn(gen uuid.UUID) {
	s.mu.Lock()
	if gen != s.gen || s.state.LoggedOn {
		s.mu.Unlock()
		return
	}
	s.state.LoggedOn = true
	s.state.Phase = types.PhaseActive
	s.mu.Unlock()
	s.emit(Event{Kind: EventLoggedOn, Message: "Logged on"})
}

// markClusterKind records the cluster software family from the first
// matching banner; later banners cannot override it.
func (s *Session) markClusterKind(gen uuid.UUID, line string) {
	kind, ok := classify.DetectClusterKind(line)
	if !ok {
		return
	}
	s.mu.Lock()
	if gen != s.gen || !s.state.ConnectionNew {
		s.mu.Unlock()
		return
	}
	s.state.Cluster = kind
	s.state.ConnectionNew = false
	s.mu.Unlock()
	s.emit(Event{Kind: EventClusterKind, Cluster: kind, Message: "Connected to " + kind.String()})
}

func (s *Session) touchSpotClock(gen uuid.UUID) {
	s.mu.Lock()
	if gen == s.gen {
		s.state.LastSpotAt = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) setPhase(gen uuid.UUID, phase types.ConnectionPhase) {
	s.mu.Lock()
	if gen == s.gen {
		s.state.Phase = phase
	}
	s.mu.Unlock()
}

// keepaliveLoop probes for idle connections. After IdlePing of spot silence
// it sends the innocuous keepalive command; after IdleReset it recycles the
// connection entirely.
func (s *Session) keepaliveLoop(ctx context.Context, gen uuid.UUID) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			current := gen == s.gen
			idle := time.Since(s.state.LastSpotAt)
			s.mu.Unlock()
			if !current {
				return
			}
			switch {
			case idle > s.cfg.IdleReset:
				s.logger.Info("no traffic, recycling connection", zap.Duration("idle", idle))
				s.failAndReconnect(gen, fmt.Sprintf("idle for %s", idle.Round(time.Second)))
				return
			case idle > s.cfg.IdlePing:
				s.stats.IncrementKeepalives()
				if err := s.Send(s.cfg.KeepaliveCommand, types.CmdKeepAlive); err != nil {
					s.logger.Warn("keepalive send failed", zap.Error(err))
				}
			}
		}
	}
}

// handleDialError reports a failed connect. A stale generation (the connect
// was superseded or the session closed mid-dial) is dropped silently.
// Transient resolver conditions are surfaced as a waiting status without
// retry; anything else follows the reconnect policy.
func (s *Session) handleDialError(gen uuid.UUID, addr string, err error) error {
	var dnsErr *net.DNSError
	transientDNS := errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return err
	}
	if transientDNS {
		s.state.Phase = types.PhaseIdle
		s.mu.Unlock()
		s.emit(Event{Kind: EventWaiting, Message: "Waiting: " + err.Error()})
		return err
	}
	s.state.Phase = types.PhaseReconnecting
	s.scheduleReconnectLocked(addr)
	s.mu.Unlock()
	s.emit(Event{Kind: EventDisconnected, Message: "Error: " + err.Error()})
	return err
}

// handleReadError runs when the transport read fails. Errors from a stale
// generation (a deliberate disconnect or an already-replaced connection)
// are dropped; a live failure triggers exactly one reconnect.
func (s *Session) handleReadError(gen uuid.UUID, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.failAndReconnect(gen, err.Error())
}

// failAndReconnect tears the live connection down and schedules a single
// delayed redial to the last-used address.
func (s *Session) failAndReconnect(gen uuid.UUID, reason string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state.Phase = types.PhaseReconnecting
	conn := s.teardownLocked()
	addr := s.state.RemoteAddress
	s.scheduleReconnectLocked(addr)
	s.mu.Unlock()

	closeQuietly(conn)
	s.emit(Event{Kind: EventDisconnected, Message: "Disconnected: " + reason})
}

func (s *Session) scheduleReconnectLocked(addr string) {
	if s.reconnectTimer != nil {
		return
	}
	s.stats.IncrementReconnects()
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		if err := s.Connect(context.Background(), addr); err != nil {
			s.logger.Warn("reconnect failed", zap.String("addr", addr), zap.Error(err))
		}
	})
}

// emit delivers an event without ever blocking the transport goroutine; if
// the consumer has fallen this far behind, the event is dropped and logged.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping event", zap.String("message", ev.Message))
	}
}

func closeQuietly(conn transport.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// sayGoodbye signs off a live connection with the polite "bye" before
// closing it.
func sayGoodbye(conn transport.Conn) {
	if conn == nil {
		return
	}
	_, _ = conn.Write([]byte("bye\r\n"))
	_ = conn.Close()
}
