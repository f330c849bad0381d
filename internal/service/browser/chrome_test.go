package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"OtcPull/internal/domain/models"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/metrics"
)

func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no chrome binary on PATH")
}

// Every asset context must come up inside one browser process even when
// they share a profile directory.
func TestChromeContextsShareOneProcess(t *testing.T) {
	requireChrome(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><button>UP</button><button>DOWN</button>%s</body></html>", r.URL.Query().Get("asset"))
	}))
	defer srv.Close()

	for _, profile := range []string{t.TempDir(), ""} {
		tr := New(Config{
			BaseURL:     srv.URL + "/trade",
			Headless:    true,
			UserDataDir: profile,
		}, []models.Asset{brent, eth}, logger.Nop(), metrics.Nop{})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := tr.Start(ctx)
		cancel()
		if err != nil {
			t.Fatalf("start (profile %q): %v", profile, err)
		}
		if ok, state := tr.Ready(); !ok || state != "2/2 contexts" {
			t.Errorf("ready (profile %q) = %v %s", profile, ok, state)
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}
