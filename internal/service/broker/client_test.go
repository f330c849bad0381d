package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"OtcPull/internal/domain/models"
	"OtcPull/internal/service/clock"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// fakeSessions hands out tokens in order; Invalidate of the current token
// moves to the next one, like a re-acquire.
type fakeSessions struct {
	mu          sync.Mutex
	tokens      []string
	idx         int
	invalidated []string
	lookups     int
}

func (f *fakeSessions) Current(context.Context) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.idx >= len(f.tokens) {
		return models.Session{}, models.ErrAuthenticationFailed
	}
	return models.Session{Token: f.tokens[f.idx]}, nil
}

func (f *fakeSessions) Invalidate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < len(f.tokens) && f.tokens[f.idx] == token {
		f.invalidated = append(f.invalidated, token)
		f.idx++
	}
}

func (f *fakeSessions) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

type inbound struct {
	Name      string          `json:"name"`
	RequestID string          `json:"request_id"`
	Msg       json.RawMessage `json:"msg"`
}

type brokerConn struct {
	n     int
	ws    *websocket.Conn
	token string
	mu    sync.Mutex
}

func (c *brokerConn) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteJSON(v)
}

// fakeBroker speaks enough of the wire protocol for the client.
type fakeBroker struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*brokerConn
	orders    []openOptionBody
	balances  []int64
	subs      []int
	subNames  []string
	heartbeat []json.RawMessage
	nextOrder int

	rejectSubscribe func(conn int, token string) bool
	onOpen          func(c *brokerConn, reqID string, body openOptionBody) bool
}

func newFakeBroker(t *testing.T) (*fakeBroker, *httptest.Server) {
	b := &fakeBroker{t: t, nextOrder: 1000}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *fakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	b.mu.Lock()
	c := &brokerConn{n: len(b.conns) + 1, ws: ws}
	b.conns = append(b.conns, c)
	b.mu.Unlock()

	for {
		var in inbound
		if err := ws.ReadJSON(&in); err != nil {
			return
		}
		switch in.Name {
		case frameAuth:
			var tok string
			_ = json.Unmarshal(in.Msg, &tok)
			b.mu.Lock()
			c.token = tok
			b.mu.Unlock()
		case frameHeartbeat:
			b.mu.Lock()
			b.heartbeat = append(b.heartbeat, in.Msg)
			b.mu.Unlock()
		case frameSubscribe:
			var sub struct {
				Name   string `json:"name"`
				Params struct {
					RoutingFilters struct {
						ActiveID int `json:"active_id"`
					} `json:"routingFilters"`
				} `json:"params"`
			}
			_ = json.Unmarshal(in.Msg, &sub)
			b.mu.Lock()
			reject := b.rejectSubscribe != nil && b.rejectSubscribe(c.n, c.token)
			b.subs = append(b.subs, sub.Params.RoutingFilters.ActiveID)
			b.subNames = append(b.subNames, sub.Name)
			b.mu.Unlock()
			if reject {
				c.send(map[string]any{"name": "unauthorized", "request_id": in.RequestID, "status": 401})
			}
		case frameSend:
			var req struct {
				Name string          `json:"name"`
				Body json.RawMessage `json:"body"`
			}
			_ = json.Unmarshal(in.Msg, &req)
			switch req.Name {
			case msgGetProfile:
				c.send(map[string]any{"name": "profile", "msg": map[string]any{
					"user_id": 42,
					"balances": []map[string]any{
						{"id": 11, "type": BalanceLive, "amount": "0"},
						{"id": 22, "type": BalancePractice, "amount": "1000"},
					},
				}})
			case msgChangeBalance:
				var body struct {
					BalanceID int64 `json:"balance_id"`
				}
				_ = json.Unmarshal(req.Body, &body)
				b.mu.Lock()
				b.balances = append(b.balances, body.BalanceID)
				b.mu.Unlock()
			case msgOpenOption:
				var body openOptionBody
				_ = json.Unmarshal(req.Body, &body)
				b.mu.Lock()
				b.orders = append(b.orders, body)
				b.nextOrder++
				id := b.nextOrder
				hook := b.onOpen
				b.mu.Unlock()
				if hook != nil && hook(c, in.RequestID, body) {
					continue
				}
				c.send(map[string]any{"name": "option", "request_id": in.RequestID, "status": 2000, "msg": map[string]any{"id": id}})
			}
		}
	}
}

func (b *fakeBroker) current() *brokerConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.ws.Close()
	}
}

func (b *fakeBroker) lastToken() string {
	c := b.current()
	if c == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return c.token
}

func (b *fakeBroker) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

var (
	eurusd = models.Asset{Name: "EURUSD-OTC", BrokerID: "EURUSD_otc", ActiveID: 76}
	brent  = models.Asset{Name: "UK BRENT", BrokerID: "BRENT_otc"}
	anchor = time.Date(2026, 3, 2, 9, 31, 0, 0, time.UTC)
)

func startClient(t *testing.T, srv *httptest.Server, sessions *fakeSessions, mod func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		URL:          wsURL(srv),
		PlaceTimeout: time.Second,
		ReconnectMin: 5 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	c := New(cfg, sessions, []models.Asset{eurusd, brent}, clock.NewFake(anchor), logger.Nop(), metrics.Nop{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if !waitFor(2*time.Second, func() bool { return c.State() == StateSubscribed }) {
		t.Fatalf("state = %s, want subscribed", c.State())
	}
	return c
}

func order(dir models.Direction) models.OrderRequest {
	return models.OrderRequest{
		Asset:     eurusd,
		Direction: dir,
		Amount:    decimal.NewFromInt(1),
		Duration:  time.Minute,
		Anchor:    anchor,
	}
}

func TestHandshakeSelectsPracticeBalanceAndSubscribes(t *testing.T) {
	b, srv := newFakeBroker(t)
	startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)

	if !waitFor(time.Second, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.balances) == 1 && len(b.subs) == 1
	}) {
		t.Fatal("handshake incomplete")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[0] != 22 {
		t.Errorf("balance id = %d, want practice 22", b.balances[0])
	}
	// assets without an active id are never subscribed
	if b.subs[0] != 76 || b.subNames[0] != msgQuotes {
		t.Errorf("subscribed = %v %v, want quotes [76]", b.subNames, b.subs)
	}
	if got := b.conns[0].token; got != "t1" {
		t.Errorf("auth token = %q", got)
	}
}

func TestReadyAfterSubscribe(t *testing.T) {
	_, srv := newFakeBroker(t)
	c := New(Config{URL: "ws://unused"}, &fakeSessions{tokens: []string{"t1"}}, nil, clock.New(), logger.Nop(), metrics.Nop{})
	if ok, state := c.Ready(); ok || state != "disconnected" {
		t.Fatalf("ready before start = %v %s", ok, state)
	}
	c = startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)
	if ok, state := c.Ready(); !ok || state != "subscribed" {
		t.Fatalf("ready = %v %s", ok, state)
	}
}

func TestLiveAccountUsesLiveBalance(t *testing.T) {
	b, srv := newFakeBroker(t)
	startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, func(c *Config) { c.BalanceType = BalanceLive })
	waitFor(time.Second, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.balances) == 1
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.balances) != 1 || b.balances[0] != 11 {
		t.Fatalf("balances = %v, want [11]", b.balances)
	}
}

func TestPlaceAcceptedFrame(t *testing.T) {
	b, srv := newFakeBroker(t)
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)

	res := c.Place(context.Background(), order(models.Down))
	if res.Outcome != models.OutcomeAccepted || res.OrderID != "1001" {
		t.Fatalf("place = %+v, want accepted 1001", res)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	got := b.orders[0]
	if got.ActiveID != 76 || got.Direction != "put" || got.OptionTypeID != optionTypeTurbo {
		t.Errorf("frame = %+v", got)
	}
	if want := anchor.Add(time.Minute).Unix(); got.Expired != want {
		t.Errorf("expired = %d, want %d", got.Expired, want)
	}
	if got.Price != "1" || got.Value != "1" || got.UserBalanceID != 22 {
		t.Errorf("frame = %+v", got)
	}
	if got.ProfitIncome != "0.85" || got.TimeRate != 60 {
		t.Errorf("profit_income = %s time_rate = %d", got.ProfitIncome, got.TimeRate)
	}
}

func TestPlaceAcceptedByOptionChanged(t *testing.T) {
	b, srv := newFakeBroker(t)
	b.onOpen = func(c *brokerConn, reqID string, _ openOptionBody) bool {
		c.send(map[string]any{"name": "option-changed", "request_id": reqID, "msg": map[string]any{"option_id": 555}})
		return true
	}
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)

	res := c.Place(context.Background(), order(models.Up))
	if res.Outcome != models.OutcomeAccepted || res.OrderID != "555" {
		t.Fatalf("place = %+v, want accepted 555", res)
	}
}

func TestOpenOptionWireShape(t *testing.T) {
	frame := openOptionFrame("r1", openOptionBody{
		ActiveID:     76,
		Direction:    "call",
		Expired:      1700000040,
		Price:        wireNumber(decimal.RequireFromString("2.50")),
		ProfitIncome: wireNumber(decimal.RequireFromString("0.85")),
		TimeRate:     60,
	})
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Name      string `json:"name"`
		RequestID string `json:"request_id"`
		Msg       struct {
			Name string                     `json:"name"`
			Body map[string]json.RawMessage `json:"body"`
		} `json:"msg"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "sendMessage" || got.RequestID != "r1" || got.Msg.Name != msgOpenOption {
		t.Fatalf("envelope = %s", raw)
	}
	want := map[string]string{
		"active_id":      "76",
		"option_type_id": "3",
		"price":          "2.5",
		"value":          "2.5",
		"profit_income":  "0.85",
		"time_rate":      "60",
	}
	for k, v := range want {
		if string(got.Msg.Body[k]) != v {
			t.Errorf("body[%s] = %s, want %s", k, got.Msg.Body[k], v)
		}
	}

	sub, _ := json.Marshal(quoteSubscribeFrame("r2", 76))
	if !strings.Contains(string(sub), `"name":"subscribe"`) || !strings.Contains(string(sub), `"name":"quotes"`) {
		t.Errorf("subscribe = %s", sub)
	}
}

func TestPlaceRejected(t *testing.T) {
	b, srv := newFakeBroker(t)
	b.onOpen = func(c *brokerConn, reqID string, _ openOptionBody) bool {
		c.send(map[string]any{"name": "option", "request_id": reqID, "status": 4000, "msg": map[string]any{"message": "active is suspended"}})
		return true
	}
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)

	res := c.Place(context.Background(), order(models.Up))
	if res.Outcome != models.OutcomeRejected || res.Reason != "active is suspended" {
		t.Fatalf("place = %+v", res)
	}
}

func TestPlaceTimeoutIsUnknown(t *testing.T) {
	b, srv := newFakeBroker(t)
	b.onOpen = func(*brokerConn, string, openOptionBody) bool { return true }
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, func(c *Config) { c.PlaceTimeout = 30 * time.Millisecond })

	res := c.Place(context.Background(), order(models.Up))
	if res.Outcome != models.OutcomeUnknown || !errors.Is(res.Err, models.ErrPlaceTimeout) {
		t.Fatalf("place = %+v, want unknown timeout", res)
	}
	if n := b.orderCount(); n != 1 {
		t.Errorf("orders sent = %d, want 1", n)
	}
}

func TestPlaceWithoutActiveIDRejected(t *testing.T) {
	_, srv := newFakeBroker(t)
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)
	req := order(models.Up)
	req.Asset = brent
	if res := c.Place(context.Background(), req); res.Outcome != models.OutcomeRejected {
		t.Fatalf("place = %+v, want rejected", res)
	}
}

func TestPlaceBeforeStartNotConnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"}, &fakeSessions{}, nil, clock.NewFake(anchor), logger.Nop(), metrics.Nop{})
	res := c.Place(context.Background(), order(models.Up))
	if res.Outcome != models.OutcomeUnknown || !errors.Is(res.Err, models.ErrNotConnected) {
		t.Fatalf("place = %+v", res)
	}
}

func TestQuotesHeartbeatAndResults(t *testing.T) {
	b, srv := newFakeBroker(t)
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)
	conn := b.current()

	conn.send(map[string]any{"name": "quote-generated", "msg": map[string]any{"active_id": 76, "value": 1.0841, "time": anchor.UnixMilli()}})
	conn.send(map[string]any{"name": "heartbeat", "msg": 1700000000000})
	if !waitFor(time.Second, func() bool {
		_, ok, _ := c.LatestPrice(context.Background(), eurusd)
		return ok
	}) {
		t.Fatal("no quote")
	}
	p, _, _ := c.LatestPrice(context.Background(), eurusd)
	if !p.Equal(decimal.RequireFromString("1.0841")) {
		t.Errorf("price = %s", p)
	}
	if _, ok, _ := c.LatestPrice(context.Background(), brent); ok {
		t.Error("brent has no direct quotes")
	}
	if !waitFor(time.Second, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.heartbeat) == 1
	}) {
		t.Fatal("heartbeat not answered")
	}

	done := make(chan struct{})
	var (
		win    models.WinState
		profit *decimal.Decimal
		err    error
	)
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		win, profit, err = c.CheckResult(ctx, "1001")
	}()
	time.Sleep(10 * time.Millisecond)
	conn.send(map[string]any{"name": "option-closed", "msg": map[string]any{"option_id": 1001, "result": "win", "amount": "1", "profit_amount": "1.85"}})
	<-done
	if err != nil || win != models.WinYes || profit == nil || !profit.Equal(decimal.RequireFromString("0.85")) {
		t.Fatalf("result = %v %v %v", win, profit, err)
	}

	// already settled results answer immediately
	win, _, err = c.CheckResult(context.Background(), "1001")
	if err != nil || win != models.WinYes {
		t.Fatalf("cached result = %v %v", win, err)
	}
}

func TestCheckResultDeadline(t *testing.T) {
	_, srv := newFakeBroker(t)
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	win, _, err := c.CheckResult(ctx, "nope")
	if win != models.WinUnknown || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("result = %v %v", win, err)
	}
}

// S4: after one accepted trade the broker rejects the token on the next
// subscribe; the session is re-acquired once and trading resumes.
func TestTokenExpiryMidRun(t *testing.T) {
	b, srv := newFakeBroker(t)
	b.rejectSubscribe = func(n int, token string) bool { return n == 2 && token == "t1" }
	sessions := &fakeSessions{tokens: []string{"t1", "t2"}}
	c := startClient(t, srv, sessions, nil)

	if res := c.Place(context.Background(), order(models.Up)); res.Outcome != models.OutcomeAccepted {
		t.Fatalf("first place = %+v", res)
	}

	b.dropAll()
	if !waitFor(2*time.Second, func() bool { return b.lastToken() == "t2" && c.State() == StateSubscribed }) {
		t.Fatalf("no recovery: token=%q state=%s", b.lastToken(), c.State())
	}
	if got := sessions.snapshot(); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("invalidated = %v, want [t1]", got)
	}

	res := c.Place(context.Background(), order(models.Down))
	if res.Outcome != models.OutcomeAccepted {
		t.Fatalf("second place = %+v", res)
	}
	if n := b.orderCount(); n != 2 {
		t.Errorf("orders = %d, want 2", n)
	}
}

func TestPendingPlaceFailsOnDisconnect(t *testing.T) {
	b, srv := newFakeBroker(t)
	b.onOpen = func(*brokerConn, string, openOptionBody) bool { return true }
	c := startClient(t, srv, &fakeSessions{tokens: []string{"t1"}}, func(c *Config) { c.PlaceTimeout = 2 * time.Second })

	out := make(chan models.PlaceResult, 1)
	go func() { out <- c.Place(context.Background(), order(models.Up)) }()
	waitFor(time.Second, func() bool { return b.orderCount() == 1 })
	b.dropAll()

	select {
	case res := <-out:
		if res.Outcome != models.OutcomeUnknown || !errors.Is(res.Err, models.ErrNotConnected) {
			t.Fatalf("place = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("pending place not failed on disconnect")
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		raw  string
		want ServerFrame
	}{
		{`{"name":"option","request_id":"r1","status":2000,"msg":{"id":7}}`, OptionFrame{RequestID: "r1", Status: 2000, ID: "7"}},
		{`{"name":"option","request_id":12,"status":4000,"msg":"no money"}`, OptionFrame{RequestID: "12", Status: 4000, Message: "no money"}},
		{`{"name":"option-changed","request_id":"r1","msg":{"option_id":555}}`, OptionChangedFrame{RequestID: "r1", ID: "555"}},
		{`{"name":"heartbeat","msg":"1700"}`, HeartbeatFrame{Time: 1700}},
		{`{"name":"result","request_id":"x","status":403}`, UnauthorizedFrame{RequestID: "x", Status: 403}},
		{`{"name":"timeSync","msg":1}`, UnknownFrame{Name: "timeSync"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			if fmt.Sprintf("%#v", got) != fmt.Sprintf("%#v", tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
	f, err := DecodeFrame([]byte(`{"name":"quotes","msg":{"active_id":76,"value":1.5,"time":0}}`))
	if q, ok := f.(QuoteFrame); err != nil || !ok || q.ActiveID != 76 || !q.Value.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("quotes frame = %#v, %v", f, err)
	}
	if _, err := DecodeFrame([]byte("{")); err == nil {
		t.Fatal("want error for malformed frame")
	}
}

func TestOptionFrameAccepted(t *testing.T) {
	if (OptionFrame{ID: "0", Status: 2000}).Accepted() {
		t.Error("zero id accepted")
	}
	if !(OptionFrame{ID: "5"}).Accepted() {
		t.Error("id without status rejected")
	}
	if (OptionFrame{ID: "5", Status: 4000}).Accepted() {
		t.Error("4000 accepted")
	}
}

func (f *fakeSessions) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func TestRejectedReacquireIsFatal(t *testing.T) {
	b, srv := newFakeBroker(t)
	// every token is rejected once the first connection drops
	b.rejectSubscribe = func(n int, _ string) bool { return n >= 2 }
	sessions := &fakeSessions{tokens: []string{"t1", "t2", "t3"}}
	c := startClient(t, srv, sessions, nil)

	b.dropAll()
	select {
	case err := <-c.Err():
		if !errors.Is(err, models.ErrAuthenticationFailed) {
			t.Fatalf("fault = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal fault after the re-acquired token was rejected")
	}
	if got := sessions.snapshot(); len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Fatalf("invalidated = %v, want [t1 t2]", got)
	}
	n := sessions.lookupCount()
	time.Sleep(50 * time.Millisecond)
	if sessions.lookupCount() != n {
		t.Fatal("connection loop kept acquiring after the fault")
	}
	if res := c.Place(context.Background(), order(models.Up)); res.Outcome != models.OutcomeUnknown {
		t.Fatalf("place after fault = %+v", res)
	}
}

func TestNoSessionIsFatal(t *testing.T) {
	b, srv := newFakeBroker(t)
	sessions := &fakeSessions{tokens: []string{"t1"}}
	c := startClient(t, srv, sessions, nil)

	// the only token is rejected and nothing replaces it
	b.mu.Lock()
	b.rejectSubscribe = func(n int, _ string) bool { return n >= 2 }
	b.mu.Unlock()
	b.dropAll()
	select {
	case err := <-c.Err():
		if !errors.Is(err, models.ErrAuthenticationFailed) {
			t.Fatalf("fault = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal fault without a session")
	}
}
