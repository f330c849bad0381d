package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// State of the session connection.
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Balance types on the wire.
const (
	BalanceLive     = 1
	BalancePractice = 4
)

var errUnauthorized = errors.New("session rejected by broker")

// Config tunes the direct websocket transport.
type Config struct {
	URL              string
	PlaceTimeout     time.Duration
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	PingInterval     time.Duration
	QueueSize        int
	PayoutRate       decimal.Decimal
	BalanceType      int
}

func (c *Config) applyDefaults() {
	if c.PlaceTimeout <= 0 {
		c.PlaceTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * c.ReconnectMin
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if !c.PayoutRate.IsPositive() {
		c.PayoutRate = decimal.RequireFromString("0.85")
	}
	if c.BalanceType == 0 {
		c.BalanceType = BalancePractice
	}
}

type reply struct {
	frame OptionFrame
	err   error
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// Client is the direct transport: one authenticated websocket carrying
// quote subscriptions and correlated open-option requests.
type Client struct {
	cfg      Config
	sessions drepo.SessionProvider
	assets   []models.Asset
	clock    drepo.Clock
	log      *logger.Logger
	metrics  drepo.Metrics
	dialer   *websocket.Dialer

	state atomic.Int32

	mu        sync.Mutex
	conn      *websocket.Conn
	token     string
	balanceID int64
	pending   map[string]chan reply
	quotes    map[int]quote
	closed    map[string]OptionClosedFrame
	waiters   map[string][]chan OptionClosedFrame

	writeMu sync.Mutex

	fatal  chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ drepo.Transport     = (*Client)(nil)
	_ drepo.ResultChecker = (*Client)(nil)
	_ drepo.Readiness     = (*Client)(nil)
	_ drepo.FaultReporter = (*Client)(nil)
)

// New creates a direct transport. It does not connect until Start.
func New(cfg Config, sessions drepo.SessionProvider, assets []models.Asset, clock drepo.Clock, log *logger.Logger, metrics drepo.Metrics) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		sessions: sessions,
		assets:   assets,
		clock:    clock,
		log:      log.With(logger.String("transport", "direct")),
		metrics:  metrics,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		pending:  make(map[string]chan reply),
		quotes:   make(map[int]quote),
		closed:   make(map[string]OptionClosedFrame),
		waiters:  make(map[string][]chan OptionClosedFrame),
		fatal:    make(chan error, 1),
	}
}

// Err delivers the error that stopped the connection loop for good: the
// broker rejected a freshly acquired session, or no session could be
// acquired at all.
func (c *Client) Err() <-chan error { return c.fatal }

func (c *Client) Name() string { return "direct" }

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Ready reports whether orders can be placed.
func (c *Client) Ready() (bool, string) {
	st := c.State()
	return st == StateSubscribed, st.String()
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		c.log.Info("transport state", logger.Stringer("state", s))
	}
}

// Start launches the connection loop. Reconnects back off exponentially
// between ReconnectMin and ReconnectMax.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("direct transport: %w: empty websocket url", models.ErrConfig)
	}
	if c.sessions == nil {
		return fmt.Errorf("direct transport: %w", models.ErrAuthenticationFailed)
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("direct transport already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	delay := c.cfg.ReconnectMin
	rejected := 0
	for {
		established, err := c.session(ctx)
		c.setState(StateClosed)
		c.failPending(models.ErrNotConnected)
		if ctx.Err() != nil {
			return
		}
		if established {
			delay = c.cfg.ReconnectMin
			rejected = 0
		}
		switch {
		case errors.Is(err, models.ErrAuthenticationFailed):
			c.fail(err)
			return
		case errors.Is(err, errUnauthorized):
			// one re-acquire per lost token; a rejected replacement is final
			rejected++
			if rejected > 1 {
				c.fail(fmt.Errorf("%w: re-acquired session rejected: %w", models.ErrAuthenticationFailed, err))
				return
			}
			delay = c.cfg.ReconnectMin
		}
		c.metrics.RecordError("broker_reconnect")
		c.log.Warn("broker connection lost, reconnecting",
			logger.Error(err),
			logger.Duration("backoff", delay),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if !established {
			delay *= 2
			if delay > c.cfg.ReconnectMax {
				delay = c.cfg.ReconnectMax
			}
		}
	}
}

// session runs one connection from dial to close. established reports
// whether the broker kept talking after the subscription, i.e. accepted
// the token.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	c.setState(StateDisconnected)
	sess, err := c.sessions.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("session: %w", err)
	}

	c.setState(StateAuthenticating)
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			c.sessions.Invalidate(sess.Token)
			return false, fmt.Errorf("dial: %w", errUnauthorized)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	c.mu.Lock()
	c.conn, c.token = conn, sess.Token
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	frames := make(chan ServerFrame, c.cfg.QueueSize)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(conn, frames, readErr, done)

	if err := c.write(authFrame(sess.Token)); err != nil {
		return false, err
	}
	if err := c.write(profileFrame(uuid.NewString())); err != nil {
		return false, err
	}

	handshake := time.NewTimer(c.cfg.HandshakeTimeout)
	defer handshake.Stop()
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return established, ctx.Err()
		case err := <-readErr:
			return established, err
		case <-handshake.C:
			if c.State() != StateSubscribed {
				return false, errors.New("handshake timed out")
			}
		case <-ping:
			if err := c.writeControl(websocket.PingMessage, nil); err != nil {
				return established, err
			}
		case f := <-frames:
			subscribed := c.State() == StateSubscribed
			if err := c.dispatch(f, sess.Token); err != nil {
				return established, err
			}
			if subscribed {
				established = true
			}
		}
	}
}

// readLoop posts decoded frames to the bounded queue. Quotes are dropped
// when the queue is full; everything else waits.
func (c *Client) readLoop(conn *websocket.Conn, frames chan<- ServerFrame, errs chan<- error, done <-chan struct{}) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			errs <- fmt.Errorf("broker read: %w", err)
			return
		}
		f, err := DecodeFrame(b)
		if err != nil {
			c.metrics.RecordError("broker_decode")
			c.log.Debug("undecodable frame", logger.Error(err))
			continue
		}
		if _, ok := f.(QuoteFrame); ok {
			select {
			case frames <- f:
			default:
				c.metrics.RecordError("broker_queue_full")
			}
			continue
		}
		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

func (c *Client) dispatch(f ServerFrame, token string) error {
	switch f := f.(type) {
	case ProfileFrame:
		return c.onProfile(f)
	case QuoteFrame:
		if a, ok := c.assetByActiveID(f.ActiveID); ok {
			c.mu.Lock()
			c.quotes[f.ActiveID] = quote{price: f.Value, at: f.Time}
			c.mu.Unlock()
			c.metrics.RecordLastPrice(a.Name, f.Value.InexactFloat64())
		}
	case OptionFrame:
		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- reply{frame: f}
		}
	case OptionChangedFrame:
		// uncorrelated option-changed pushes are status updates of known orders
		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- reply{frame: OptionFrame{RequestID: f.RequestID, ID: f.ID}}
		}
	case OptionClosedFrame:
		c.mu.Lock()
		c.closed[f.ID] = f
		ws := c.waiters[f.ID]
		delete(c.waiters, f.ID)
		c.mu.Unlock()
		for _, w := range ws {
			w <- f
		}
	case HeartbeatFrame:
		return c.write(heartbeatReply(f.Time, c.clock.Now()))
	case UnauthorizedFrame:
		c.log.Warn("broker rejected session", logger.Int("status", f.Status))
		c.sessions.Invalidate(token)
		return errUnauthorized
	case UnknownFrame:
		c.log.Debug("frame", logger.String("name", f.Name))
	}
	return nil
}

func (c *Client) onProfile(p ProfileFrame) error {
	c.setState(StateAuthenticated)
	var balanceID int64
	for _, b := range p.Balances {
		if b.Type == c.cfg.BalanceType {
			balanceID = b.ID
			break
		}
	}
	if balanceID == 0 {
		c.log.Warn("no balance of the configured type in profile", logger.Int("balance_type", c.cfg.BalanceType))
	} else if err := c.write(changeBalanceFrame(uuid.NewString(), balanceID)); err != nil {
		return err
	}
	c.mu.Lock()
	c.balanceID = balanceID
	c.mu.Unlock()

	for _, a := range c.assets {
		if a.ActiveID == 0 {
			continue
		}
		if err := c.write(quoteSubscribeFrame(uuid.NewString(), a.ActiveID)); err != nil {
			return err
		}
	}
	c.setState(StateSubscribed)
	c.log.Info("broker profile", logger.String("user_id", p.UserID), logger.Int64("balance_id", balanceID))
	return nil
}

// Place sends an open-option frame and waits for the correlated reply.
func (c *Client) Place(ctx context.Context, req models.OrderRequest) models.PlaceResult {
	if req.Asset.ActiveID == 0 {
		return models.Rejected(fmt.Sprintf("asset %s has no direct active id", req.Asset.Name))
	}
	if c.State() != StateSubscribed {
		return models.Unknown(models.ErrNotConnected)
	}

	anchor := req.Anchor
	if anchor.IsZero() {
		anchor = c.clock.Now()
	}
	dur := req.Duration
	if dur <= 0 {
		dur = time.Minute
	}

	reqID := uuid.NewString()
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	balanceID := c.balanceID
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	frame := openOptionFrame(reqID, openOptionBody{
		UserBalanceID: balanceID,
		ActiveID:      req.Asset.ActiveID,
		Direction:     wireDirection(req.Direction),
		Expired:       util.ExpiryUnix(anchor.Add(dur - time.Nanosecond)),
		Price:         wireNumber(req.Amount),
		ProfitIncome:  wireNumber(c.cfg.PayoutRate),
		TimeRate:      int64(dur / time.Second),
	})
	if err := c.write(frame); err != nil {
		return models.Unknown(err)
	}

	t := time.NewTimer(c.cfg.PlaceTimeout)
	defer t.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return models.Unknown(r.err)
		}
		if r.frame.Accepted() {
			return models.Accepted(r.frame.ID)
		}
		reason := r.frame.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", r.frame.Status)
		}
		return models.Rejected(reason)
	case <-t.C:
		return models.Unknown(models.ErrPlaceTimeout)
	case <-ctx.Done():
		return models.Unknown(ctx.Err())
	}
}

// CheckResult waits for the option-closed frame of orderID.
func (c *Client) CheckResult(ctx context.Context, orderID string) (models.WinState, *decimal.Decimal, error) {
	c.mu.Lock()
	f, ok := c.closed[orderID]
	var ch chan OptionClosedFrame
	if !ok {
		ch = make(chan OptionClosedFrame, 1)
		c.waiters[orderID] = append(c.waiters[orderID], ch)
	}
	c.mu.Unlock()

	if !ok {
		select {
		case f = <-ch:
		case <-ctx.Done():
			return models.WinUnknown, nil, fmt.Errorf("result %s: %w", orderID, ctx.Err())
		}
	}
	profit := f.ProfitAmount.Sub(f.Amount)
	switch f.Result {
	case "win":
		return models.WinYes, &profit, nil
	case "loose", "lose", "loss":
		return models.WinNo, &profit, nil
	case "equal":
		return models.WinTie, &profit, nil
	}
	return models.WinUnknown, &profit, nil
}

// LatestPrice returns the last streamed quote for the asset.
func (c *Client) LatestPrice(_ context.Context, asset models.Asset) (decimal.Decimal, bool, error) {
	if asset.ActiveID == 0 {
		return decimal.Zero, false, nil
	}
	c.mu.Lock()
	q, ok := c.quotes[asset.ActiveID]
	c.mu.Unlock()
	return q.price, ok, nil
}

// Close stops the connection loop and fails pending places.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	c.setState(StateClosed)
	return nil
}

func (c *Client) fail(err error) {
	c.metrics.RecordError("broker_auth")
	c.log.Error("direct transport stopped", logger.Error(err))
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- reply{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) write(v outbound) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", v.Name, err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("broker write %s: %w", v.Name, err)
	}
	return nil
}

func (c *Client) writeControl(kind int, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(kind, data, time.Now().Add(time.Second))
}

func (c *Client) assetByActiveID(id int) (models.Asset, bool) {
	for _, a := range c.assets {
		if a.ActiveID == id {
			return a, true
		}
	}
	return models.Asset{}, false
}

func wireDirection(d models.Direction) string {
	if d == models.Up {
		return "call"
	}
	return "put"
}
