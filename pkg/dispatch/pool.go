package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/gorilla/websocket"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

// PoolConfig configures the connection pool.
type PoolConfig struct {
	// PushURL is the worker pull endpoint (outbound tasks).
	PushURL string

	// SubURL is the worker publish endpoint (inbound results).
	SubURL string

	// DialTimeout bounds a single dial attempt. Default 10 seconds.
	DialTimeout time.Duration

	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	// Defaults 500ms / 30s.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Dialer is the websocket dialer. If nil, websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (c *PoolConfig) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectInitial == 0 {
		c.ReconnectInitial = 500 * time.Millisecond
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Frame is one named binary frame for a multipart send.
type Frame struct {
	Slot     string
	Data     []byte
	MimeType string
}

// Pool owns the outbound push channel and the inbound subscribe channel to
// the worker pool. It is the only component touching the sockets; everyone
// else consumes its message and error channels.
//
// Reconnection is automatic and transparent: after a transport failure the
// pool redials in the background with exponential backoff. Sends issued
// while disconnected fail fast with a transport error instead of queueing.
type Pool struct {
	cfg    PoolConfig
	codec  wire.Codec
	logger *slog.Logger

	writeMu  sync.Mutex
	connMu   sync.Mutex
	pushConn *websocket.Conn
	subConn  *websocket.Conn

	connected    atomic.Bool
	reconnecting atomic.Bool

	messages  chan *wire.Envelope
	errs      chan error
	closeChan chan struct{}
	closeOnce sync.Once

	pongMu      sync.Mutex
	pongWaiters map[string]chan struct{}
}

// NewPool creates a pool. Call Connect before sending.
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:         cfg,
		logger:      logger,
		messages:    make(chan *wire.Envelope, 100),
		errs:        make(chan error, 16),
		closeChan:   make(chan struct{}),
		pongWaiters: make(map[string]chan struct{}),
	}
}

// Messages is the inbound envelope stream.
func (p *Pool) Messages() <-chan *wire.Envelope { return p.messages }

// Errors is the transport error stream.
func (p *Pool) Errors() <-chan error { return p.errs }

// Connected reports whether both channels are currently established.
func (p *Pool) Connected() bool { return p.connected.Load() }

// Connect dials both channels, retrying with backoff until the first
// success or ctx cancellation.
func (p *Pool) Connect(ctx context.Context) error {
	bo := gax.Backoff{
		Initial:    p.cfg.ReconnectInitial,
		Max:        p.cfg.ReconnectMax,
		Multiplier: 2,
	}
	for {
		err := p.dial(ctx)
		if err == nil {
			return nil
		}
		p.logger.Warn("connect failed, backing off", "error", err)
		if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
			return newTransportError("", err, "connect aborted")
		}
	}
}

func (p *Pool) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	pushConn, _, err := p.cfg.Dialer.DialContext(dialCtx, p.cfg.PushURL, nil)
	if err != nil {
		return newTransportError("", err, "dial push channel")
	}
	subConn, _, err := p.cfg.Dialer.DialContext(dialCtx, p.cfg.SubURL, nil)
	if err != nil {
		pushConn.Close()
		return newTransportError("", err, "dial subscribe channel")
	}

	p.connMu.Lock()
	p.pushConn = pushConn
	p.subConn = subConn
	p.connMu.Unlock()
	p.connected.Store(true)

	go p.receiveLoop(subConn)
	p.logger.Info("connected", "push", p.cfg.PushURL, "sub", p.cfg.SubURL)
	return nil
}

// Send encodes the envelope and writes it as a single transport message.
func (p *Pool) Send(env *wire.Envelope) error {
	if !p.connected.Load() {
		return newTransportError(env.TaskID, nil, "not connected")
	}
	data, err := p.codec.Encode(env)
	if err != nil {
		return newTransportError(env.TaskID, err, "encode envelope")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.connMu.Lock()
	conn := p.pushConn
	p.connMu.Unlock()
	if conn == nil {
		return newTransportError(env.TaskID, nil, "not connected")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.transportFailure(err)
		return newTransportError(env.TaskID, err, "write")
	}
	return nil
}

// SendMultipart attaches the named frames to the envelope and sends the
// header plus all frames as one atomic transport message.
func (p *Pool) SendMultipart(env *wire.Envelope, frames ...Frame) error {
	for _, f := range frames {
		env.AttachFrame(f.Slot, f.Data, f.MimeType)
	}
	return p.Send(env)
}

// HealthCheck sends a liveness ping and waits for the matching pong within
// the ctx deadline. Returns false on any failure.
func (p *Pool) HealthCheck(ctx context.Context) bool {
	id := newCorrelationID()
	env, err := wire.NewEnvelope(wire.TaskPing, id, wire.PingRequest{
		SentAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}

	waiter := make(chan struct{}, 1)
	p.pongMu.Lock()
	p.pongWaiters[id] = waiter
	p.pongMu.Unlock()
	defer func() {
		p.pongMu.Lock()
		delete(p.pongWaiters, id)
		p.pongMu.Unlock()
	}()

	if err := p.Send(env); err != nil {
		return false
	}
	select {
	case <-waiter:
		return true
	case <-ctx.Done():
		return false
	case <-p.closeChan:
		return false
	}
}

// Disconnect releases both channels and stops the receive loop.
func (p *Pool) Disconnect() {
	p.closeOnce.Do(func() {
		close(p.closeChan)
		p.connected.Store(false)
		p.closeConns()
	})
}

func (p *Pool) closeConns() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.pushConn != nil {
		p.pushConn.Close()
		p.pushConn = nil
	}
	if p.subConn != nil {
		p.subConn.Close()
		p.subConn = nil
	}
}

func (p *Pool) receiveLoop(conn *websocket.Conn) {
	for {
		select {
		case <-p.closeChan:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.closeChan:
			default:
				p.transportFailure(err)
			}
			return
		}

		env, err := p.codec.Decode(data)
		if err != nil {
			p.emitErr(newTransportError("", err, "decode inbound message"))
			continue
		}

		if wire.ParseResultType(string(env.Type)) == wire.ResultPong {
			p.notifyPong(env.TaskID)
		}

		select {
		case p.messages <- env:
		case <-p.closeChan:
			return
		}
	}
}

func (p *Pool) notifyPong(taskID string) {
	p.pongMu.Lock()
	waiter, ok := p.pongWaiters[taskID]
	p.pongMu.Unlock()
	if ok {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// transportFailure flips the pool into disconnected state, surfaces the
// error, and starts a background reconnect.
func (p *Pool) transportFailure(err error) {
	select {
	case <-p.closeChan:
		return
	default:
	}
	if !p.connected.Swap(false) {
		return
	}
	p.emitErr(newTransportError("", err, "connection lost"))
	if p.reconnecting.CompareAndSwap(false, true) {
		go p.reconnectLoop()
	}
}

func (p *Pool) reconnectLoop() {
	defer p.reconnecting.Store(false)
	p.closeConns()

	bo := gax.Backoff{
		Initial:    p.cfg.ReconnectInitial,
		Max:        p.cfg.ReconnectMax,
		Multiplier: 2,
	}
	for {
		select {
		case <-p.closeChan:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
		err := p.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		p.logger.Warn("reconnect failed", "error", err)
		timer := time.NewTimer(bo.Pause())
		select {
		case <-timer.C:
		case <-p.closeChan:
			timer.Stop()
			return
		}
	}
}

func (p *Pool) emitErr(err error) {
	select {
	case p.errs <- err:
	default:
	}
}
