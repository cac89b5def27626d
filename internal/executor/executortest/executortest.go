// Package executortest provides an in-process stand-in for an isolated
// interpreter, so Worker and Pool behaviour can be tested without Python.
package executortest

import (
	"context"
	"errors"
	"sync"

	"github.com/sakif/python-sandbox/internal/executor"
)

// Handler plays the interpreter: it receives each posted request and returns
// the response to send back. ctx is cancelled when the channel is
// terminated, so a handler simulating a hang can block on <-ctx.Done().
type Handler func(ctx context.Context, req executor.ExecutionRequest) *executor.ExecutionResponse

// Echo answers every request successfully, printing its code.
func Echo(_ context.Context, req executor.ExecutionRequest) *executor.ExecutionResponse {
	return executor.Success(req.ID, req.Code+"\n", "", nil)
}

// Hang never answers until terminated.
func Hang(ctx context.Context, _ executor.ExecutionRequest) *executor.ExecutionResponse {
	<-ctx.Done()
	return nil
}

// Channel is an executor.Channel backed by a Handler running in a goroutine.
type Channel struct {
	handler  Handler
	messages chan executor.Message

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	posted []executor.ExecutionRequest
}

var _ executor.Channel = (*Channel)(nil)

// NewChannel creates a live stand-in channel.
func NewChannel(h Handler) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		handler:  h,
		messages: make(chan executor.Message, 8),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Post hands req to the handler.
func (c *Channel) Post(req executor.ExecutionRequest) error {
	if c.Terminated() {
		return executor.ErrChannelClosed
	}

	c.mu.Lock()
	c.posted = append(c.posted, req)
	c.mu.Unlock()

	go func() {
		resp := c.handler(c.ctx, req)
		if resp == nil {
			return
		}
		c.Inject(executor.Message{Response: resp})
	}()
	return nil
}

// Inject delivers an arbitrary message, as if the interpreter had sent it.
func (c *Channel) Inject(msg executor.Message) {
	select {
	case c.messages <- msg:
	case <-c.ctx.Done():
	}
}

// Crash reports a channel-level failure.
func (c *Channel) Crash(err error) {
	if err == nil {
		err = errors.New("interpreter crashed")
	}
	c.Inject(executor.Message{Err: err})
}

// Messages implements executor.Channel.
func (c *Channel) Messages() <-chan executor.Message {
	return c.messages
}

// Terminate implements executor.Channel.
func (c *Channel) Terminate() error {
	c.cancel()
	return nil
}

// Terminated reports whether Terminate was called.
func (c *Channel) Terminated() bool {
	return c.ctx.Err() != nil
}

// Posted returns the requests received so far.
func (c *Channel) Posted() []executor.ExecutionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]executor.ExecutionRequest(nil), c.posted...)
}

// Launcher creates stand-in channels and remembers them.
type Launcher struct {
	mu       sync.Mutex
	handler  Handler
	err      error
	channels []*Channel
}

var _ executor.Launcher = (*Launcher)(nil)

// NewLauncher creates a Launcher whose channels all use h.
func NewLauncher(h Handler) *Launcher {
	return &Launcher{handler: h}
}

// SetHandler changes the handler used by channels launched from now on.
func (l *Launcher) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// FailWith makes subsequent launches fail with err (nil restores them).
func (l *Launcher) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Launch implements executor.Launcher.
func (l *Launcher) Launch(ctx context.Context) (executor.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	ch := NewChannel(l.handler)
	l.channels = append(l.channels, ch)
	return ch, nil
}

// Channels returns every channel launched so far, oldest first.
func (l *Launcher) Channels() []*Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Channel(nil), l.channels...)
}

// Last returns the most recently launched channel, or nil.
func (l *Launcher) Last() *Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.channels) == 0 {
		return nil
	}
	return l.channels[len(l.channels)-1]
}
