package executor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrChannelClosed is reported when an interpreter's output stream ends and
// the backend cannot say why.
var ErrChannelClosed = errors.New("execution context closed")

// StreamConfig describes the pipes of an interpreter speaking the
// bootstrap JSON-lines protocol.
type StreamConfig struct {
	// Stdin receives one JSON request per line.
	Stdin io.WriteCloser
	// Stdout yields one JSON response per line.
	Stdout io.Reader
	// Kill forcibly destroys the interpreter. Called at most once.
	Kill func() error
	// Exited, if set, is called after Stdout hits EOF and explains why the
	// interpreter went away (exit status, container state).
	Exited func() error
}

// StreamChannel is a Channel over a pair of byte streams. Both backends use
// it: process pipes and an attached container look the same from here.
type StreamChannel struct {
	cfg StreamConfig

	writeMu  sync.Mutex
	messages chan Message
	done     chan struct{}

	once    sync.Once
	killErr error
}

var _ Channel = (*StreamChannel)(nil)

// NewStreamChannel starts reading cfg.Stdout in the background.
func NewStreamChannel(cfg StreamConfig) *StreamChannel {
	c := &StreamChannel{
		cfg:      cfg,
		messages: make(chan Message, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Post writes req as a single JSON line.
func (c *StreamChannel) Post(req ExecutionRequest) error {
	line, err := json.Marshal(wireRequest{
		ExecutionRequest: req,
		TimeoutMS:        req.Timeout.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("executor: encoding request %s: %w", req.ID, err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	if _, err := c.cfg.Stdin.Write(line); err != nil {
		return fmt.Errorf("executor: writing request %s: %w", req.ID, err)
	}
	return nil
}

// Messages returns responses and stream errors in arrival order.
func (c *StreamChannel) Messages() <-chan Message {
	return c.messages
}

// Terminate kills the interpreter. Safe to call more than once.
func (c *StreamChannel) Terminate() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.cfg.Stdin.Close()
		if c.cfg.Kill != nil {
			c.killErr = c.cfg.Kill()
		}
	})
	return c.killErr
}

func (c *StreamChannel) readLoop() {
	defer close(c.messages)

	reader := bufio.NewReader(c.cfg.Stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var resp ExecutionResponse
			if jsonErr := json.Unmarshal(line, &resp); jsonErr != nil {
				if !c.publish(Message{Err: fmt.Errorf("executor: decoding response: %w", jsonErr)}) {
					return
				}
			} else if !c.publish(Message{Response: &resp}) {
				return
			}
		}
		if err != nil {
			c.publish(Message{Err: c.exitReason(err)})
			return
		}
	}
}

// publish delivers msg unless the channel was terminated first.
func (c *StreamChannel) publish(msg Message) bool {
	select {
	case c.messages <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *StreamChannel) exitReason(readErr error) error {
	if !errors.Is(readErr, io.EOF) {
		return fmt.Errorf("executor: reading responses: %w", readErr)
	}
	if c.cfg.Exited != nil {
		if err := c.cfg.Exited(); err != nil {
			return err
		}
	}
	return ErrChannelClosed
}
