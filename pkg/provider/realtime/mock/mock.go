// Package mock provides a scriptable in-memory realtime.Client.
package mock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/murmur/pkg/eventbus"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
)

var _ realtime.Client = (*Client)(nil)

// Client records every outbound call and lets tests inject inbound events
// with Emit.
type Client struct {
	// ConnectErr is returned by Connect when non-nil.
	ConnectErr error
	// SendErr is returned by SendAudio, CommitAudio and TriggerGreeting.
	SendErr error

	mu        sync.Mutex
	connected bool
	bus       *eventbus.Bus[realtime.Event]

	ConnectCalls    int
	DisconnectCalls int
	Greetings       int
	Commits         int
	Audio           [][]byte
}

// New returns a disconnected mock client.
func New() *Client {
	return &Client{bus: eventbus.New[realtime.Event](256)}
}

func (c *Client) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

func (c *Client) Subscribe() *eventbus.Subscription[realtime.Event] {
	return c.bus.Subscribe()
}

func (c *Client) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		slog.Warn("mock realtime: dropping audio, not connected")
		return nil
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Audio = append(c.Audio, append([]byte(nil), pcm...))
	return nil
}

func (c *Client) CommitAudio(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return realtime.ErrNotConnected
	}
	c.Commits++
	return c.SendErr
}

func (c *Client) TriggerGreeting(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return realtime.ErrNotConnected
	}
	c.Greetings++
	return c.SendErr
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DisconnectCalls++
	if c.connected {
		c.connected = false
		c.bus.Publish(realtime.Event{Type: realtime.EventClosed})
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit delivers evt to every subscriber.
func (c *Client) Emit(evt realtime.Event) {
	c.bus.Publish(evt)
}

// AudioChunks returns the number of SendAudio calls that were recorded.
func (c *Client) AudioChunks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Audio)
}

// GreetingCount returns how many greetings were requested.
func (c *Client) GreetingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Greetings
}
