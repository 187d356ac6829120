package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/types"
)

// Connection is the root endpoint of an Engine. It owns every Session.
//
// INVARIANTS:
//   - a local channel is never handed out again while its session is open
//   - a session is removed only once both of its sides are closed
type Connection struct {
	endpoint[*Connection]

	engine      *Engine
	containerID string
	peer        *types.Open

	sessions       map[uint16]*Session // by local channel
	remoteSessions map[uint16]*Session // by remote channel

	sessionOpenHandler func(*Session)
}

func newConnection(e *Engine, containerID string) *Connection {
	c := &Connection{
		engine:         e,
		containerID:    containerID,
		sessions:       make(map[uint16]*Session),
		remoteSessions: make(map[uint16]*Session),
	}
	c.self = c
	return c
}

// Engine returns the owning engine.
func (c *Connection) Engine() *Engine { return c.engine }

// ContainerID returns the local container id.
func (c *Connection) ContainerID() string { return c.containerID }

// Hostname returns the hostname sent in Open.
func (c *Connection) Hostname() string { return c.engine.cfg.hostname }

// MaxFrameSize returns the largest frame this side accepts.
func (c *Connection) MaxFrameSize() uint32 { return c.engine.cfg.maxFrameSize }

// ChannelMax returns the highest channel this side accepts.
func (c *Connection) ChannelMax() uint16 { return c.engine.cfg.channelMax }

// RemoteOpen returns the Open the peer sent, or nil before it arrives.
func (c *Connection) RemoteOpen() *types.Open { return c.peer }

// RemoteContainerID returns the peer's container id once it has opened.
func (c *Connection) RemoteContainerID() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.ContainerID
}

// RemoteHostname returns the hostname the peer asked for.
func (c *Connection) RemoteHostname() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.Hostname
}

// RemoteMaxFrameSize returns the peer's max frame size, or 0 before Open.
func (c *Connection) RemoteMaxFrameSize() uint32 {
	if c.peer == nil {
		return 0
	}
	return c.peer.MaxFrameSize
}

// RemoteChannelMax returns the peer's channel max, or 0 before Open.
func (c *Connection) RemoteChannelMax() uint16 {
	if c.peer == nil {
		return 0
	}
	return c.peer.ChannelMax
}

// RemoteIdleTimeout returns the peer's idle timeout.
func (c *Connection) RemoteIdleTimeout() time.Duration {
	if c.peer == nil {
		return 0
	}
	return c.peer.IdleTimeout
}

// RemoteOfferedCapabilities returns the capabilities the peer offered.
func (c *Connection) RemoteOfferedCapabilities() []codec.Symbol {
	if c.peer == nil {
		return nil
	}
	return c.peer.OfferedCapabilities
}

// RemoteDesiredCapabilities returns the capabilities the peer desired.
func (c *Connection) RemoteDesiredCapabilities() []codec.Symbol {
	if c.peer == nil {
		return nil
	}
	return c.peer.DesiredCapabilities
}

// RemoteProperties returns the peer's connection properties.
func (c *Connection) RemoteProperties() map[codec.Symbol]any {
	if c.peer == nil {
		return nil
	}
	return c.peer.Properties
}

// SessionOpenHandler sets the callback run when the peer begins a session
// this side did not ask for. The handler usually calls Begin on it.
func (c *Connection) SessionOpenHandler(fn func(*Session)) {
	c.sessionOpenHandler = fn
}

// Session creates a session. Nothing is written until Begin.
func (c *Connection) Session() *Session {
	return newSession(c)
}

// Sessions returns the sessions that are not yet fully closed, ordered by
// local channel, then remotely begun sessions by remote channel.
func (c *Connection) Sessions() []*Session {
	var out []*Session
	for _, ch := range slices.Sorted(maps.Keys(c.sessions)) {
		out = append(out, c.sessions[ch])
	}
	for _, ch := range slices.Sorted(maps.Keys(c.remoteSessions)) {
		if s := c.remoteSessions[ch]; !s.hasChannel {
			out = append(out, s)
		}
	}
	return out
}

// Open sends Open. It fails if the connection was already opened.
func (c *Connection) Open() error {
	if err := c.engine.check(); err != nil {
		return err
	}
	if c.local != EndpointIdle {
		return illegalState("connection already %s", c.local)
	}
	return c.open()
}

func (c *Connection) open() error {
	cfg := c.engine.cfg
	open := &types.Open{
		ContainerID:         c.containerID,
		Hostname:            cfg.hostname,
		MaxFrameSize:        cfg.maxFrameSize,
		ChannelMax:          cfg.channelMax,
		IdleTimeout:         cfg.idleTimeout,
		OfferedCapabilities: cfg.offered,
		DesiredCapabilities: cfg.desired,
		Properties:          cfg.properties,
	}
	if err := c.send(0, open, nil); err != nil {
		return err
	}
	c.local = EndpointActive
	c.engine.log.Info("connection opened", "container_id", c.containerID)
	return nil
}

// Close sends Close without an error.
func (c *Connection) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError sends Close carrying err. Every session and link is
// force-closed at once; the peer's Close is still awaited for the
// connection itself.
func (c *Connection) CloseWithError(err *types.Error) error {
	if e := c.engine.check(); e != nil {
		return e
	}
	if c.local == EndpointClosed {
		return illegalState("connection already closed")
	}
	if c.local == EndpointIdle {
		// Close is only legal after Open.
		if e := c.open(); e != nil {
			return e
		}
	}
	if e := c.send(0, &types.Close{Error: err}, nil); e != nil {
		return e
	}
	c.engine.log.Info("connection closed", "container_id", c.containerID, "error", err)
	c.forceSessions()
	c.localClosed(err)
	return nil
}

func (c *Connection) send(channel uint16, body types.Performative, payload []byte) error {
	if err := c.engine.pipe.sendAMQP(channel, body, payload); err != nil {
		return newError(ErrCodeIllegalState, err, "write %s", body.Name())
	}
	return nil
}

// force closes the connection and everything under it without writing.
func (c *Connection) force() {
	c.forceSessions()
	c.forceClosed()
}

func (c *Connection) forceSessions() {
	for _, s := range c.Sessions() {
		s.force()
	}
	clear(c.sessions)
	clear(c.remoteSessions)
}

func (c *Connection) removeSession(s *Session) {
	if s.hasChannel && c.sessions[s.channel] == s {
		delete(c.sessions, s.channel)
	}
	if s.hasRemoteChannel && c.remoteSessions[s.remoteChannel] == s {
		delete(c.remoteSessions, s.remoteChannel)
	}
}

// allocateChannel returns the lowest channel free on both limits.
func (c *Connection) allocateChannel() (uint16, bool) {
	limit := c.engine.cfg.channelMax
	if c.peer != nil {
		limit = min(limit, c.peer.ChannelMax)
	}
	for ch := uint32(0); ch <= uint32(limit); ch++ {
		if _, used := c.sessions[uint16(ch)]; !used {
			return uint16(ch), true
		}
	}
	return 0, false
}

func (c *Connection) dispatch(f *frame.Frame) error {
	switch body := f.Body.(type) {
	case *types.Open:
		return c.onOpen(body)
	case *types.Close:
		return c.onClose(body)
	}
	if c.remote != EndpointActive {
		return violation("%s received on channel %d while connection is %s", f.Body.Name(), f.Channel, c.remote)
	}
	if begin, ok := f.Body.(*types.Begin); ok {
		return c.onBegin(f.Channel, begin)
	}
	s := c.remoteSessions[f.Channel]
	if s == nil {
		return violation("%s received on unused channel %d", f.Body.Name(), f.Channel)
	}
	return s.dispatch(f)
}

func (c *Connection) onOpen(open *types.Open) error {
	if c.remote != EndpointIdle {
		return violation("open received while connection is %s", c.remote)
	}
	c.peer = open
	c.engine.pipe.writer.SetMaxFrameSize(max(open.MaxFrameSize, frame.MinMaxFrameSize))
	c.engine.log.Info("remote open", "container_id", open.ContainerID, "max_frame_size", open.MaxFrameSize, "channel_max", open.ChannelMax)
	c.remoteOpened()
	return nil
}

func (c *Connection) onClose(cl *types.Close) error {
	if c.remote == EndpointClosed {
		return violation("close received twice")
	}
	c.engine.log.Info("remote close", "container_id", c.RemoteContainerID(), "error", cl.Error)
	c.remoteClosed(cl.Error)
	if c.local != EndpointClosed && c.engine.IsWritable() {
		return c.CloseWithError(nil)
	}
	c.forceSessions()
	return nil
}

func (c *Connection) onBegin(channel uint16, begin *types.Begin) error {
	if _, used := c.remoteSessions[channel]; used {
		return violation("begin received on channel %d already in use", channel)
	}
	if channel > c.engine.cfg.channelMax {
		return violation("begin received on channel %d above channel-max %d", channel, c.engine.cfg.channelMax)
	}

	var s *Session
	if begin.RemoteChannel != nil {
		s = c.sessions[*begin.RemoteChannel]
		if s == nil || s.remote != EndpointIdle {
			return violation("begin answers unknown channel %d", *begin.RemoteChannel)
		}
	} else {
		s = newSession(c)
	}
	s.remoteChannel, s.hasRemoteChannel = channel, true
	c.remoteSessions[channel] = s
	s.onBegin(begin)

	if begin.RemoteChannel == nil && c.sessionOpenHandler != nil {
		c.sessionOpenHandler(s)
	}
	return nil
}
