// Package natsio republishes accepted spots and session status lines over
// NATS JetStream for downstream consumers (map renderers, loggers).
package natsio

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dxwatch/dxwatch/internal/types"
)

const (
	SubjectSpots  = "dx.spots"
	SubjectStatus = "dx.status"
)

// StatusMessage is the wire form of one status line.
type StatusMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Client represents a NATS client.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS and ensures the spot stream exists.
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     "DX_SPOTS",
		Subjects: []string{SubjectSpots, SubjectStatus},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishSpot publishes one accepted spot.
func (c *Client) PublishSpot(spot *types.Spot) error {
	data, err := json.Marshal(spot)
	if err != nil {
		return fmt.Errorf("failed to marshal spot: %w", err)
	}

	if _, err := c.js.Publish(SubjectSpots, data); err != nil {
		return fmt.Errorf("failed to publish spot: %w", err)
	}
	return nil
}

// PublishStatus publishes one human-readable status line.
func (c *Client) PublishStatus(msg string) error {
	data, err := json.Marshal(&StatusMessage{Message: msg, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if _, err := c.js.Publish(SubjectStatus, data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// SubscribeSpots subscribes to the spot subject.
func (c *Client) SubscribeSpots(handler func(*types.Spot)) error {
	_, err := c.js.Subscribe(SubjectSpots, func(msg *nats.Msg) {
		var spot types.Spot
		if err := json.Unmarshal(msg.Data, &spot); err != nil {
			fmt.Printf("Error unmarshaling spot: %v\n", err)
			return
		}
		handler(&spot)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// SubscribeStatus subscribes to the status subject.
func (c *Client) SubscribeStatus(handler func(*StatusMessage)) error {
	_, err := c.js.Subscribe(SubjectStatus, func(msg *nats.Msg) {
		var status StatusMessage
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			fmt.Printf("Error unmarshaling status: %v\n", err)
			return
		}
		handler(&status)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
