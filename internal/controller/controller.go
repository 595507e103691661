// Package controller wires the session state machine to the parser and the
// spot store, forwards UI-style commands, and republishes what the session
// produces. It is the only component issuing commands to the session or
// the store.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dxwatch/dxwatch/internal/config"
	"github.com/dxwatch/dxwatch/internal/session"
	"github.com/dxwatch/dxwatch/internal/spot"
	"github.com/dxwatch/dxwatch/internal/spotstore"
	"github.com/dxwatch/dxwatch/internal/stats"
	"github.com/dxwatch/dxwatch/internal/types"
)

// Lookup resolves the call signs of an accepted spot to coordinates. A nil
// Lookup disables overlay construction.
type Lookup interface {
	HaveSessionKey() bool
	PairCoordinates(ctx context.Context, spotterCall, dxCall, frequency string) (*types.PairCoordinates, error)
}

// Publisher republishes spots and status lines for external consumers. A
// nil Publisher disables republishing.
type Publisher interface {
	PublishSpot(spot *types.Spot) error
	PublishStatus(msg string) error
}

// ClusterSession is the slice of the session state machine the controller
// drives. Satisfied by *session.Session; tests feed synthetic event
// streams through a fake.
type ClusterSession interface {
	Events() <-chan session.Event
	Connect(ctx context.Context, addr string) error
	Disconnect()
	Send(text string, cmd types.CommandType) error
	State() types.SessionState
}

// Controller is the composition root of the client core.
type Controller struct {
	session   ClusterSession
	store     *spotstore.Store
	directory *config.Directory
	lookup    Lookup
	publisher Publisher
	logger    *zap.Logger
	stats     *stats.Stats

	lookups sync.WaitGroup
}

// New wires a controller. lookup and publisher may be nil.
func New(sess ClusterSession, store *spotstore.Store, dir *config.Directory, lookup Lookup, publisher Publisher, logger *zap.Logger, st *stats.Stats) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		st = stats.New()
	}
	if dir == nil {
		dir = config.NewDirectory(nil)
	}
	return &Controller{
		session:   sess,
		store:     store,
		directory: dir,
		lookup:    lookup,
		publisher: publisher,
		logger:    logger,
		stats:     st,
	}
}

// Run consumes session events until the context is cancelled, then waits
// for in-flight lookups to settle.
func (c *Controller) Run(ctx context.Context) error {
	defer c.lookups.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.session.Events():
			c.handleEvent(ctx, ev)
		}
	}
}

// Connect resolves the cluster name through the directory and dials it.
func (c *Controller) Connect(ctx context.Context, nameOrAddr string) error {
	addr, err := c.directory.Resolve(nameOrAddr)
	if err != nil {
		return err
	}
	return c.session.Connect(ctx, addr)
}

// Disconnect closes the cluster session.
func (c *Controller) Disconnect() {
	c.session.Disconnect()
}

// SendCommand forwards a UI command. The numeric tags are the spot-listing
// shortcuts; any other tag sends the free text untouched.
func (c *Controller) SendCommand(tag int, freeText string) error {
	switch tag {
	case 20:
		return c.session.Send("show/dx 20", types.CmdShowSpots)
	case 50:
		return c.session.Send("show/dx 50", types.CmdShowSpots)
	default:
		return c.session.Send(freeText, types.CmdIgnore)
	}
}

// SetBandFilter enables or disables one band in the store.
func (c *Controller) SetBandFilter(band int, enabled bool) {
	c.store.SetBandFilter(band, enabled)
}

// Spots returns the published spot list, most recent first.
func (c *Controller) Spots() []types.Spot { return c.store.Spots() }

// Overlays returns the published overlay segments.
func (c *Controller) Overlays() []types.OverlaySegment { return c.store.Overlays() }

// StatusMessages returns the published status log.
func (c *Controller) StatusMessages() []string { return c.store.StatusMessages() }

// ConnectionPhase returns the session's current phase.
func (c *Controller) ConnectionPhase() types.ConnectionPhase {
	return c.session.State().Phase
}

func (c *Controller) handleEvent(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventSpot:
		c.ingestSpot(ctx, ev.Message, spot.ParseLive)
	case session.EventSpotList:
		c.ingestSpot(ctx, ev.Message, spot.ParseTabular)
	default:
		c.status(ev.Message)
	}
}

// ingestSpot parses one spot-shaped line and publishes the result. A parse
// failure drops the line and reports it as status; the session is never
// interrupted.
func (c *Controller) ingestSpot(ctx context.Context, line string, parse func(string, time.Time) (*types.Spot, error)) {
	sp, err := parse(line, time.Now().UTC())
	if err != nil {
		c.stats.IncrementParseFailures()
		c.logger.Warn("dropping unparseable spot line", zap.Error(err))
		c.status(fmt.Sprintf("Unparseable spot: %s", line))
		return
	}

	c.stats.IncrementSpots()
	c.stats.UpdateLastSpotTime()

	if !c.store.Insert(*sp) {
		return // band filtered
	}
	if c.publisher != nil {
		if err := c.publisher.PublishSpot(sp); err != nil {
			c.logger.Warn("spot publish failed", zap.Error(err))
		}
	}
	c.requestOverlay(ctx, sp)
}

// requestOverlay resolves both call signs asynchronously; the spot is
// already published and ingestion never blocks on the lookup service.
func (c *Controller) requestOverlay(ctx context.Context, sp *types.Spot) {
	if c.lookup == nil || !c.lookup.HaveSessionKey() {
		return
	}
	c.lookups.Add(1)
	go func() {
		defer c.lookups.Done()
		pair, err := c.lookup.PairCoordinates(ctx, sp.Spotter, sp.DXStation, sp.FrequencyKHz)
		if err != nil {
			c.stats.IncrementLookupFailures()
			c.logger.Debug("overlay lookup failed",
				zap.String("spotter", sp.Spotter),
				zap.String("dx", sp.DXStation),
				zap.Error(err))
			return
		}
		seg := types.OverlaySegment{Start: pair.Spotter, End: pair.DX, Band: pair.Band}
		if c.store.AddOverlay(seg) {
			c.stats.IncrementOverlays()
		}
	}()
}

func (c *Controller) status(msg string) {
	if msg == "" {
		return
	}
	c.store.AppendStatus(msg)
	if c.publisher != nil {
		if err := c.publisher.PublishStatus(msg); err != nil {
			c.logger.Warn("status publish failed", zap.Error(err))
		}
	}
}
