package browser

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"OtcPull/internal/domain/models"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/metrics"

	"github.com/shopspring/decimal"
)

// fakeTab clicks whatever XPath clickable accepts and answers Inspect from
// a scripted sequence.
type fakeTab struct {
	mu        sync.Mutex
	clickable func(xpath string) bool
	inspect   []inspection
	opened    string
	script    string
	clicks    []string
	closed    bool
	cookies   map[string]string
	loginErr  error
}

func (f *fakeTab) Open(_ context.Context, url, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened, f.script = url, script
	return nil
}

func (f *fakeTab) Click(_ context.Context, xpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, xpath)
	if f.clickable != nil && f.clickable(xpath) {
		return nil
	}
	return errors.New("not found")
}

func (f *fakeTab) Inspect(context.Context, string) (inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inspect) == 0 {
		return inspection{}, nil
	}
	in := f.inspect[0]
	if len(f.inspect) > 1 {
		f.inspect = f.inspect[1:]
	}
	return in, nil
}

func (f *fakeTab) Login(context.Context, string, string, string) error { return f.loginErr }

func (f *fakeTab) Cookies(context.Context) (map[string]string, error) { return f.cookies, nil }

func (f *fakeTab) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var (
	brent = models.Asset{Name: "UK BRENT", BrokerID: "BRENT_otc"}
	eth   = models.Asset{Name: "ETH", BrokerID: "ETH_otc"}
)

func newTestTransport(t *testing.T, cfg Config, tabs map[string]*fakeTab) *Transport {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://broker.test/trade"
	}
	if cfg.ObservationWindow == 0 {
		cfg.ObservationWindow = 30 * time.Millisecond
	}
	if cfg.SelectorTimeout == 0 {
		cfg.SelectorTimeout = 10 * time.Millisecond
	}
	tr := New(cfg, []models.Asset{brent, eth}, logger.Nop(), metrics.Nop{})
	order := []string{brent.Name, eth.Name}
	var mu sync.Mutex
	next := 0
	tr.newTab = func(context.Context) (tab, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(order) {
			return tabs["login"], nil
		}
		tb := tabs[order[next]]
		next++
		return tb, nil
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func req(a models.Asset, d models.Direction) models.OrderRequest {
	return models.OrderRequest{Asset: a, Direction: d, Amount: decimal.NewFromInt(1), Duration: time.Minute}
}

func TestButtonSelectorsOrder(t *testing.T) {
	up := ButtonSelectors(models.Up)
	if up[0].Strategy != "label" || !strings.Contains(up[0].XPath, "'UP'") {
		t.Fatalf("first up selector = %+v", up[0])
	}
	var strategies []string
	for _, s := range up {
		if len(strategies) == 0 || strategies[len(strategies)-1] != s.Strategy {
			strategies = append(strategies, s.Strategy)
		}
	}
	if strings.Join(strategies, ",") != "label,class,position" {
		t.Fatalf("strategy order = %v", strategies)
	}

	down := ButtonSelectors(models.Down)
	joined := ""
	for _, s := range down {
		joined += s.XPath + "\n"
	}
	for _, want := range []string{"'Abajo'", "'Bajo'", "'put-btn'", "'red'", "[2]"} {
		if !strings.Contains(joined, want) {
			t.Errorf("down selectors miss %s", want)
		}
	}
	if strings.Contains(joined, "'call'") {
		t.Error("down selectors reference call")
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := map[string]string{
		"UP":     "'UP'",
		"it's":   `"it's"`,
		`a'b"c`:  `concat('a', "'", 'b"c')`,
		"Arriba": "'Arriba'",
	}
	for in, want := range tests {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestProtectionScript(t *testing.T) {
	s, err := ProtectionScript(`BR"ENT_otc`, "/api/v1/profile", 240*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"BR\"ENT_otc"`, `"asset"`, "240000", "30000", `"/api/v1/profile"`, "F5", "replaceState"} {
		if !strings.Contains(s, want) {
			t.Errorf("script missing %s", want)
		}
	}
}

func TestAssetURL(t *testing.T) {
	u, err := AssetURL("https://qxbroker.com/trade?lang=en", "ETH_otc")
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://qxbroker.com/trade?asset=ETH_otc&lang=en" {
		t.Fatalf("url = %s", u)
	}
}

func TestStartPinsOneContextPerAsset(t *testing.T) {
	tabs := map[string]*fakeTab{brent.Name: {}, eth.Name: {}}
	tr := newTestTransport(t, Config{}, tabs)

	if !strings.Contains(tabs[brent.Name].opened, "asset=BRENT_otc") || !strings.Contains(tabs[eth.Name].opened, "asset=ETH_otc") {
		t.Fatalf("opened %q and %q", tabs[brent.Name].opened, tabs[eth.Name].opened)
	}
	if !strings.Contains(tabs[eth.Name].script, `"ETH_otc"`) {
		t.Error("eth context got the wrong protection script")
	}
	if ok, state := tr.Ready(); !ok || state != "2/2 contexts" {
		t.Errorf("ready = %v %s", ok, state)
	}
}

func TestPlaceFallsBackToClassSelector(t *testing.T) {
	tb := &fakeTab{
		clickable: func(x string) bool { return strings.Contains(x, "'put-btn'") },
		inspect:   []inspection{{}, {Confirmed: true, OrderID: "77"}},
	}
	tr := newTestTransport(t, Config{}, map[string]*fakeTab{brent.Name: tb, eth.Name: {}})

	res := tr.Place(context.Background(), req(brent, models.Down))
	if res.Outcome != models.OutcomeAccepted || res.OrderID != "77" {
		t.Fatalf("place = %+v", res)
	}
	if n := len(tb.clicks); n != len(downLabels)+1 {
		t.Errorf("tried %d selectors, want %d", n, len(downLabels)+1)
	}
}

func TestPlaceErrorOverlayRejects(t *testing.T) {
	tb := &fakeTab{
		clickable: func(string) bool { return true },
		inspect:   []inspection{{Error: "Insufficient funds"}},
	}
	tr := newTestTransport(t, Config{}, map[string]*fakeTab{brent.Name: tb, eth.Name: {}})
	res := tr.Place(context.Background(), req(brent, models.Up))
	if res.Outcome != models.OutcomeRejected || res.Reason != "Insufficient funds" {
		t.Fatalf("place = %+v", res)
	}
}

func TestPlaceSilenceIsUnknownUnlessConfigured(t *testing.T) {
	clickAll := func(string) bool { return true }
	tr := newTestTransport(t, Config{}, map[string]*fakeTab{brent.Name: {clickable: clickAll}, eth.Name: {}})
	res := tr.Place(context.Background(), req(brent, models.Up))
	if res.Outcome != models.OutcomeUnknown || !errors.Is(res.Err, errNoConfirmation) {
		t.Fatalf("place = %+v", res)
	}

	tr2 := newTestTransport(t, Config{AcceptOnSilence: true}, map[string]*fakeTab{brent.Name: {clickable: clickAll}, eth.Name: {}})
	res = tr2.Place(context.Background(), req(brent, models.Up))
	if res.Outcome != models.OutcomeAccepted || !strings.HasPrefix(res.OrderID, "browser-") {
		t.Fatalf("place = %+v", res)
	}
}

func TestPlaceNoButtonIsTransportError(t *testing.T) {
	tb := &fakeTab{}
	tr := newTestTransport(t, Config{}, map[string]*fakeTab{brent.Name: tb, eth.Name: {}})
	res := tr.Place(context.Background(), req(brent, models.Up))
	if res.Outcome != models.OutcomeUnknown || !errors.Is(res.Err, errButtonNotFound) {
		t.Fatalf("place = %+v", res)
	}
	if len(tb.clicks) != len(ButtonSelectors(models.Up)) {
		t.Errorf("tried %d of %d selectors", len(tb.clicks), len(ButtonSelectors(models.Up)))
	}
}

func TestPlaceRoutesToAssetContext(t *testing.T) {
	b := &fakeTab{clickable: func(string) bool { return true }, inspect: []inspection{{Confirmed: true, OrderID: "b"}}}
	e := &fakeTab{clickable: func(string) bool { return true }, inspect: []inspection{{Confirmed: true, OrderID: "e"}}}
	tr := newTestTransport(t, Config{}, map[string]*fakeTab{brent.Name: b, eth.Name: e})

	var wg sync.WaitGroup
	results := make([]models.PlaceResult, 2)
	for i, a := range []models.Asset{brent, eth} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = tr.Place(context.Background(), req(a, models.Up))
		}()
	}
	wg.Wait()
	if results[0].OrderID != "b" || results[1].OrderID != "e" {
		t.Fatalf("results = %+v", results)
	}

	unknown := tr.Place(context.Background(), req(models.Asset{Name: "ADA"}, models.Up))
	if unknown.Outcome != models.OutcomeUnknown || !errors.Is(unknown.Err, models.ErrNotConnected) {
		t.Fatalf("unknown asset = %+v", unknown)
	}
}

func TestCloseClosesTabs(t *testing.T) {
	b, e := &fakeTab{}, &fakeTab{}
	tr := newTestTransport(t, Config{}, map[string]*fakeTab{brent.Name: b, eth.Name: e})
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if !b.closed || !e.closed {
		t.Fatal("tabs left open")
	}
	if ok, state := tr.Ready(); ok || state != "closed" {
		t.Errorf("ready after close = %v %s", ok, state)
	}
	if res := tr.Place(context.Background(), req(brent, models.Up)); res.Outcome != models.OutcomeUnknown {
		t.Fatalf("place after close = %+v", res)
	}
}

func TestCaptureCookies(t *testing.T) {
	login := &fakeTab{cookies: map[string]string{"session": "s1"}}
	tr := newTestTransport(t, Config{SignInURL: "https://broker.test/sign-in"}, map[string]*fakeTab{brent.Name: {}, eth.Name: {}, "login": login})
	cookies, err := tr.CaptureCookies(context.Background())
	if err != nil || cookies["session"] != "s1" {
		t.Fatalf("cookies = %v %v", cookies, err)
	}
	if !login.closed {
		t.Error("login context left open")
	}
}

func TestInspectExpression(t *testing.T) {
	expr := inspectExpression([]string{".toast-error"}, "#ok")
	if !strings.Contains(expr, `[".toast-error"]`) || !strings.Contains(expr, `"#ok"`) {
		t.Fatalf("expr = %s", expr)
	}
	if !strings.Contains(inspectExpression(nil, ""), "([], \"\")") {
		t.Fatal("nil selectors must render as an empty array")
	}
}
