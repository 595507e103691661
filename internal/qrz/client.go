// Package qrz resolves call signs to geographic positions through the
// QRZ.com XML API. A session key is fetched once with the subscriber
// credentials and refreshed when the service reports it expired. Results
// feed the overlay subsystem; a failed lookup only means no map line.
package qrz

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dxwatch/dxwatch/internal/band"
	"github.com/dxwatch/dxwatch/internal/geocache"
	"github.com/dxwatch/dxwatch/internal/types"
)

// DefaultBaseURL is the production QRZ XML endpoint.
const DefaultBaseURL = "https://xmldata.qrz.com/xml/current/"

// LookupError reports a lookup the service could not satisfy.
type LookupError struct {
	Callsign string
	Reason   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s failed: %s", e.Callsign, e.Reason)
}

type qrzResponse struct {
	XMLName  xml.Name `xml:"QRZDatabase"`
	Session  qrzSession
	Callsign qrzCallsign
}

type qrzSession struct {
	XMLName xml.Name `xml:"Session"`
	Key     string   `xml:"Key"`
	Error   string   `xml:"Error"`
}

type qrzCallsign struct {
	XMLName xml.Name `xml:"Callsign"`
	Call    string   `xml:"call"`
	Lat     float64  `xml:"lat"`
	Lon     float64  `xml:"lon"`
	Grid    string   `xml:"grid"`
}

// Client is the XML API client. It satisfies the controller's Lookup
// interface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	cache      *geocache.Client
	logger     *zap.Logger

	mu         sync.Mutex
	sessionKey string
}

// New creates a lookup client. cache may be nil when Redis is not
// configured.
func New(username, password string, cache *geocache.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    DefaultBaseURL,
		username:   username,
		password:   password,
		cache:      cache,
		logger:     logger,
	}
}

// SetBaseURL points the client at a different endpoint. Test hook.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// HaveSessionKey reports whether a service session is established.
func (c *Client) HaveSessionKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey != ""
}

// RequestSessionKey authenticates with the service and stores the session
// key used by subsequent lookups.
func (c *Client) RequestSessionKey(ctx context.Context) error {
	q := url.Values{}
	q.Set("username", c.username)
	q.Set("password", c.password)

	resp, err := c.get(ctx, q)
	if err != nil {
		return fmt.Errorf("session key request: %w", err)
	}
	if resp.Session.Key == "" {
		reason := resp.Session.Error
		if reason == "" {
			reason = "no session key in response"
		}
		return fmt.Errorf("session key request: %s", reason)
	}

	c.mu.Lock()
	c.sessionKey = resp.Session.Key
	c.mu.Unlock()
	c.logger.Info("lookup service session established")
	return nil
}

// PairCoordinates resolves both call signs of a spot and derives the band
// from its frequency.
func (c *Client) PairCoordinates(ctx context.Context, spotterCall, dxCall, frequency string) (*types.PairCoordinates, error) {
	spotter, err := c.lookup(ctx, spotterCall)
	if err != nil {
		return nil, err
	}
	dx, err := c.lookup(ctx, dxCall)
	if err != nil {
		return nil, err
	}
	return &types.PairCoordinates{
		Spotter: *spotter,
		DX:      *dx,
		Band:    band.FromFrequency(frequency),
	}, nil
}

// lookup resolves one call sign, consulting the cache first. An expired
// session is renewed once before giving up.
func (c *Client) lookup(ctx context.Context, callsign string) (*types.Coordinate, error) {
	if c.cache != nil {
		coord, err := c.cache.GetCoordinate(ctx, callsign)
		if err != nil {
			c.logger.Warn("geocache read failed", zap.String("callsign", callsign), zap.Error(err))
		} else if coord != nil {
			return coord, nil
		}
	}

	coord, err := c.fetch(ctx, callsign)
	if err != nil {
		var lerr *LookupError
		if errors.As(err, &lerr) && strings.Contains(lerr.Reason, "Session Timeout") {
			if rerr := c.RequestSessionKey(ctx); rerr != nil {
				return nil, rerr
			}
			coord, err = c.fetch(ctx, callsign)
		}
		if err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		if cerr := c.cache.StoreCoordinate(ctx, callsign, *coord); cerr != nil {
			c.logger.Warn("geocache write failed", zap.String("callsign", callsign), zap.Error(cerr))
		}
	}
	return coord, nil
}

func (c *Client) fetch(ctx context.Context, callsign string) (*types.Coordinate, error) {
	c.mu.Lock()
	key := c.sessionKey
	c.mu.Unlock()
	if key == "" {
		return nil, &LookupError{Callsign: callsign, Reason: "no session key"}
	}

	q := url.Values{}
	q.Set("s", key)
	q.Set("callsign", callsign)

	resp, err := c.get(ctx, q)
	if err != nil {
		return nil, err
	}
	if resp.Session.Error != "" {
		return nil, &LookupError{Callsign: callsign, Reason: resp.Session.Error}
	}
	if resp.Callsign.Call == "" {
		return nil, &LookupError{Callsign: callsign, Reason: "callsign not found"}
	}
	return &types.Coordinate{Latitude: resp.Callsign.Lat, Longitude: resp.Callsign.Lon}, nil
}

func (c *Client) get(ctx context.Context, q url.Values) (*qrzResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup service returned %s", httpResp.Status)
	}

	var resp qrzResponse
	if err := xml.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	return &resp, nil
}
