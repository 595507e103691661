package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dxwatch/dxwatch/internal/testutils"
	"github.com/dxwatch/dxwatch/internal/transport"
	"github.com/dxwatch/dxwatch/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptConn is a scriptable transport: tests feed inbound bytes and
// inspect outbound writes.
type scriptConn struct {
	readCh  chan []byte
	failCh  chan error
	closeCh chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []string
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		readCh:  make(chan []byte, 16),
		failCh:  make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

func (c *scriptConn) Read(p []byte) (int, error) {
	select {
	case data := <-c.readCh:
		return copy(p, data), nil
	case err := <-c.failCh:
		return 0, err
	case <-c.closeCh:
		return 0, io.EOF
	}
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.writes = append(c.writes, string(p))
	c.mu.Unlock()
	return len(p), nil
}

func (c *scriptConn) Close() error {
	c.once.Do(func() { close(c.closeCh) })
	return nil
}

func (c *scriptConn) feed(s string)  { c.readCh <- []byte(s) }
func (c *scriptConn) fail(err error) { c.failCh <- err }

func (c *scriptConn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *scriptConn) sentLine(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.writes {
		if w == s+"\r\n" {
			return true
		}
	}
	return false
}

type scriptDialer struct {
	mu    sync.Mutex
	conns []*scriptConn
}

func (d *scriptDialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newScriptConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *scriptDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *scriptDialer) conn(i int) *scriptConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// gatedDialer stalls its first Dial until the gate is released; later
// dials pass straight through.
type gatedDialer struct {
	scriptDialer
	gate    chan struct{}
	entered chan struct{}
	first   sync.Once
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{gate: make(chan struct{}), entered: make(chan struct{})}
}

func (d *gatedDialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	stall := false
	d.first.Do(func() { stall = true })
	if stall {
		close(d.entered)
		<-d.gate
	}
	return d.scriptDialer.Dial(ctx, addr)
}

// recorder drains the event channel so emits never back up.
type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(s *Session) *recorder {
	r := &recorder{done: make(chan struct{})}
	go func() {
		for {
			select {
			case ev := <-s.Events():
				r.mu.Lock()
				r.events = append(r.events, ev)
				r.mu.Unlock()
			case <-r.done:
				return
			}
		}
	}()
	return r
}

func (r *recorder) stop() { close(r.done) }

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func testOperator() types.Operator {
	return types.Operator{Callsign: "W6OP", Name: "Peter", QTH: "Benicia CA", Grid: "CM88"}
}

func startSession(t *testing.T, cfg Config) (*Session, *scriptDialer, *recorder) {
	t.Helper()
	if cfg.Operator.Callsign == "" {
		cfg.Operator = testOperator()
	}
	dialer := &scriptDialer{}
	sess := New(cfg, dialer, zap.NewNop(), nil)
	rec := record(sess)
	if err := sess.Connect(context.Background(), "cluster.example.com:7300"); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() {
		sess.Close()
		rec.stop()
	})
	return sess, dialer, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if err := testutils.WaitForCondition(cond, 2*time.Second); err != nil {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSession_ConnectTransitionsToAwaitingLogin(t *testing.T) {
	sess, dialer, rec := startSession(t, Config{})

	if dialer.dials() != 1 {
		t.Fatalf("expected 1 dial, got %d", dialer.dials())
	}
	st := sess.State()
	if st.Phase != types.PhaseAwaitingLogin {
		t.Errorf("phase = %v, want awaiting-login", st.Phase)
	}
	if st.Cluster != types.ClusterUnknown {
		t.Errorf("cluster = %v, want unknown", st.Cluster)
	}
	waitFor(t, "connected event", func() bool { return rec.count(EventConnected) == 1 })
}

func TestSession_LoginSequence(t *testing.T) {
	sess, dialer, rec := startSession(t, Config{})
	conn := dialer.conn(0)

	conn.feed("login: \r\n")
	waitFor(t, "callsign reply", func() bool { return conn.sentLine("W6OP") })
	if sess.State().Phase != types.PhaseLoggingIn {
		t.Errorf("phase = %v, want logging-in", sess.State().Phase)
	}

	conn.feed("Is this correct (Y or N) >\r\n")
	waitFor(t, "confirmation reply", func() bool { return conn.sentLine("Y") })

	conn.feed("W6OP de dxspider >\r\n")
	waitFor(t, "logged on", func() bool { return sess.State().LoggedOn })
	if sess.State().Phase != types.PhaseActive {
		t.Errorf("phase = %v, want active", sess.State().Phase)
	}

	// Station details are only sent once logged on.
	conn.feed("Please enter your name\r\n")
	waitFor(t, "name command", func() bool { return conn.sentLine("set/name Peter") })
	conn.feed("Please enter your QTH\r\n")
	waitFor(t, "qth command", func() bool { return conn.sentLine("set/qth Benicia CA") })
	conn.feed("Please enter your location\r\n")
	waitFor(t, "grid command", func() bool { return conn.sentLine("set/qra CM88") })

	// A repeated banner is idempotent.
	conn.feed("W6OP de dxspider >\r\n")
	conn.feed("73\r\n")
	waitFor(t, "info after repeat banner", func() bool { return rec.count(EventInfo) >= 1 })
	if got := rec.count(EventLoggedOn); got != 1 {
		t.Errorf("logged-on events = %d, want exactly 1", got)
	}
}

func TestSession_StationDetailsSuppressedBeforeLogon(t *testing.T) {
	_, dialer, rec := startSession(t, Config{})
	conn := dialer.conn(0)

	conn.feed("Please enter your name\r\n")
	conn.feed("marker line\r\n")
	waitFor(t, "marker processed", func() bool { return rec.count(EventInfo) >= 1 })
	if conn.sentLine("set/name Peter") {
		t.Error("set/name must not be sent before logon")
	}
}

func TestSession_ClusterKindDetectedOnce(t *testing.T) {
	sess, dialer, rec := startSession(t, Config{})
	conn := dialer.conn(0)

	conn.feed("Welcome to the DXSpider node of W6OP\r\n")
	waitFor(t, "cluster kind", func() bool { return sess.State().Cluster == types.ClusterDXSpider })

	conn.feed("AR-Cluster welcome banner\r\n")
	waitFor(t, "second banner as info", func() bool { return rec.count(EventInfo) >= 1 })
	if got := sess.State().Cluster; got != types.ClusterDXSpider {
		t.Errorf("cluster kind overridden to %v, want DXSpider", got)
	}
	if got := rec.count(EventClusterKind); got != 1 {
		t.Errorf("cluster-kind events = %d, want exactly 1", got)
	}
}

func TestSession_SpotEvents(t *testing.T) {
	sess, dialer, rec := startSession(t, Config{})
	conn := dialer.conn(0)
	before := sess.State().LastSpotAt

	conn.feed("DX de W3EX:      28075.6  N9AMI                                       1912Z FN20\r\n")
	waitFor(t, "live spot event", func() bool { return rec.count(EventSpot) == 1 })

	conn.feed("24915.0  PU0FDN      16-Jul-2020 1912Z  FM19TM<>HI36SD               <W6YTG>\r\n")
	waitFor(t, "tabular spot event", func() bool { return rec.count(EventSpotList) == 1 })

	ev, _ := rec.last(EventSpot)
	if !strings.Contains(ev.Message, "N9AMI") {
		t.Errorf("spot event message = %q, want raw line", ev.Message)
	}
	if !sess.State().LastSpotAt.After(before) {
		t.Error("LastSpotAt not advanced by spot arrival")
	}
}

func TestSession_PartialLineReassembly(t *testing.T) {
	_, dialer, rec := startSession(t, Config{})
	conn := dialer.conn(0)

	conn.feed("DX de W1AW:  70")
	conn.feed("05.0  K1TTT  CW  0012Z\r\nextra info line\r\n")
	waitFor(t, "reassembled spot", func() bool { return rec.count(EventSpot) == 1 })

	ev, _ := rec.last(EventSpot)
	if !strings.Contains(ev.Message, "7005.0") {
		t.Errorf("reassembled line = %q, want full frequency", ev.Message)
	}
}

func TestSession_ReconnectOnReadError(t *testing.T) {
	sess, dialer, rec := startSession(t, Config{ReconnectDelay: 10 * time.Millisecond})

	dialer.conn(0).fail(errors.New("connection reset by peer"))
	waitFor(t, "disconnected event", func() bool { return rec.count(EventDisconnected) == 1 })
	waitFor(t, "redial", func() bool { return dialer.dials() == 2 })

	// Exactly one reconnect per failure: give a stale duplicate time to
	// show up, then check none did.
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dials(); got != 2 {
		t.Errorf("dials = %d, want exactly 2", got)
	}
	if sess.State().Phase != types.PhaseAwaitingLogin {
		t.Errorf("phase after reconnect = %v, want awaiting-login", sess.State().Phase)
	}
}

func TestSession_DisconnectSendsByeAndIsIdempotent(t *testing.T) {
	sess, dialer, _ := startSession(t, Config{})
	conn := dialer.conn(0)

	sess.Disconnect()
	if !conn.sentLine("bye") {
		t.Error("disconnect must send bye")
	}
	if sess.State().Phase != types.PhaseIdle {
		t.Errorf("phase = %v, want idle", sess.State().Phase)
	}

	sess.Disconnect() // no-op while idle
	if got := dialer.dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestSession_DisconnectCancelsPendingReconnect(t *testing.T) {
	sess, dialer, _ := startSession(t, Config{ReconnectDelay: 80 * time.Millisecond})

	dialer.conn(0).fail(errors.New("broken pipe"))
	waitFor(t, "reconnecting phase", func() bool {
		return sess.State().Phase == types.PhaseReconnecting
	})
	sess.Disconnect()

	time.Sleep(150 * time.Millisecond)
	if got := dialer.dials(); got != 1 {
		t.Errorf("dials = %d, want 1 (pending reconnect cancelled)", got)
	}
}

func TestSession_KeepalivePingWhenIdle(t *testing.T) {
	_, dialer, _ := startSession(t, Config{
		KeepaliveInterval: 20 * time.Millisecond,
		IdlePing:          time.Millisecond,
		IdleReset:         time.Hour,
	})
	conn := dialer.conn(0)

	waitFor(t, "keepalive command", func() bool { return conn.sentLine("show/time") })
}

func TestSession_IdleResetRecyclesConnection(t *testing.T) {
	_, dialer, rec := startSession(t, Config{
		KeepaliveInterval: 15 * time.Millisecond,
		IdlePing:          time.Millisecond,
		IdleReset:         5 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
	})

	waitFor(t, "recycle redial", func() bool { return dialer.dials() >= 2 })
	waitFor(t, "disconnected event", func() bool { return rec.count(EventDisconnected) >= 1 })
}

func TestSession_ConnectSupersedesInFlightDial(t *testing.T) {
	dialer := newGatedDialer()
	sess := New(Config{Operator: testOperator()}, dialer, zap.NewNop(), nil)
	rec := record(sess)
	defer rec.stop()

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- sess.Connect(context.Background(), "slow.example.com:7300")
	}()
	<-dialer.entered

	// A second connect completes while the first is still stalled in Dial.
	if err := sess.Connect(context.Background(), "fast.example.com:7300"); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	close(dialer.gate)

	if err := <-firstErr; err == nil {
		t.Error("superseded connect must report an error")
	}
	waitFor(t, "both dials", func() bool { return dialer.dials() == 2 })

	// The stale dial's connection is discarded and closed; the session
	// stays bound to the winner.
	slow := dialer.conn(1)
	waitFor(t, "stale conn closed", slow.isClosed)
	if got := sess.State().RemoteAddress; got != "fast.example.com:7300" {
		t.Errorf("remote address = %q, want fast.example.com:7300", got)
	}

	done := make(chan struct{})
	go func() {
		sess.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() hung; a stale connection kept a read loop alive")
	}
}

func TestSession_ConnectReplacesLiveConnectionWithBye(t *testing.T) {
	sess, dialer, _ := startSession(t, Config{})
	first := dialer.conn(0)

	if err := sess.Connect(context.Background(), "other.example.com:7300"); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if !first.sentLine("bye") {
		t.Error("replacing a live connection must sign off with bye")
	}
	if !first.isClosed() {
		t.Error("replaced connection must be closed")
	}
	if got := dialer.dials(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestSession_SendNotConnected(t *testing.T) {
	sess := New(Config{Operator: testOperator()}, &scriptDialer{}, zap.NewNop(), nil)
	if err := sess.Send("show/dx", types.CmdIgnore); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}
