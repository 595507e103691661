package qrz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// qrzStub serves the QRZ XML dialect: session requests carry username and
// password, lookups carry the session key and a callsign.
type qrzStub struct {
	mu       sync.Mutex
	key      string
	expired  bool
	sessions int
	lookups  int
	stations map[string][2]float64
}

func (s *qrzStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		q := r.URL.Query()
		if q.Get("username") != "" {
			s.sessions++
			s.expired = false
			fmt.Fprintf(w, `<QRZDatabase><Session><Key>%s</Key></Session></QRZDatabase>`, s.key)
			return
		}

		s.lookups++
		if s.expired || q.Get("s") != s.key {
			fmt.Fprint(w, `<QRZDatabase><Session><Error>Session Timeout</Error></Session></QRZDatabase>`)
			return
		}
		call := q.Get("callsign")
		pos, ok := s.stations[call]
		if !ok {
			fmt.Fprintf(w, `<QRZDatabase><Session><Key>%s</Key><Error>Not found: %s</Error></Session></QRZDatabase>`, s.key, call)
			return
		}
		fmt.Fprintf(w, `<QRZDatabase><Session><Key>%s</Key></Session><Callsign><call>%s</call><lat>%f</lat><lon>%f</lon></Callsign></QRZDatabase>`,
			s.key, call, pos[0], pos[1])
	}
}

func newStubClient(t *testing.T, stub *qrzStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	c := New("user", "pass", nil, nil)
	c.SetBaseURL(srv.URL)
	return c
}

func TestClient_RequestSessionKey(t *testing.T) {
	stub := &qrzStub{key: "abc123"}
	c := newStubClient(t, stub)

	assert.False(t, c.HaveSessionKey())
	require.NoError(t, c.RequestSessionKey(context.Background()))
	assert.True(t, c.HaveSessionKey())
}

func TestClient_RequestSessionKeyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<QRZDatabase><Session><Error>Username/password incorrect</Error></Session></QRZDatabase>`)
	}))
	defer srv.Close()

	c := New("user", "wrong", nil, nil)
	c.SetBaseURL(srv.URL)

	err := c.RequestSessionKey(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Username/password incorrect")
	assert.False(t, c.HaveSessionKey())
}

func TestClient_PairCoordinates(t *testing.T) {
	stub := &qrzStub{
		key: "abc123",
		stations: map[string][2]float64{
			"W3EX":  {40.2, -75.3},
			"N9AMI": {41.8, -87.6},
		},
	}
	c := newStubClient(t, stub)
	require.NoError(t, c.RequestSessionKey(context.Background()))

	pair, err := c.PairCoordinates(context.Background(), "W3EX", "N9AMI", "28075.6")
	require.NoError(t, err)
	assert.InDelta(t, 40.2, pair.Spotter.Latitude, 0.001)
	assert.InDelta(t, -87.6, pair.DX.Longitude, 0.001)
	assert.Equal(t, 10, pair.Band)
}

func TestClient_LookupUnknownCallsign(t *testing.T) {
	stub := &qrzStub{key: "abc123", stations: map[string][2]float64{"W3EX": {40.2, -75.3}}}
	c := newStubClient(t, stub)
	require.NoError(t, c.RequestSessionKey(context.Background()))

	_, err := c.PairCoordinates(context.Background(), "W3EX", "XX0XX", "28075.6")
	require.Error(t, err)
	var lerr *LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "XX0XX", lerr.Callsign)
}

func TestClient_SessionTimeoutRenewsOnce(t *testing.T) {
	stub := &qrzStub{
		key:      "abc123",
		stations: map[string][2]float64{"W3EX": {40.2, -75.3}, "N9AMI": {41.8, -87.6}},
	}
	c := newStubClient(t, stub)
	require.NoError(t, c.RequestSessionKey(context.Background()))

	stub.mu.Lock()
	stub.expired = true
	stub.mu.Unlock()

	pair, err := c.PairCoordinates(context.Background(), "W3EX", "N9AMI", "14074.0")
	require.NoError(t, err)
	assert.Equal(t, 20, pair.Band)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 2, stub.sessions, "expected exactly one session renewal")
}

func TestClient_NoSessionKey(t *testing.T) {
	stub := &qrzStub{key: "abc123"}
	c := newStubClient(t, stub)

	_, err := c.PairCoordinates(context.Background(), "W3EX", "N9AMI", "28075.6")
	require.Error(t, err)
	var lerr *LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Contains(t, lerr.Reason, "no session key")
}
