package usecase

import (
	"context"
	"testing"
	"time"

	"OtcPull/internal/domain/models"
	"OtcPull/pkg/logger"
)

func TestTradeCollectorKeepsNewestFirst(t *testing.T) {
	ch := make(chan models.TradeResult, 8)
	c := NewTradeCollector(ch, 3, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for i, id := range []string{"a", "b", "c", "d"} {
		state := models.StateDone
		if i == 1 {
			state = models.StateFailed
		}
		ch <- models.TradeResult{TradeID: id, Asset: "ADA", State: state}
	}
	ch <- models.TradeResult{TradeID: "d", Asset: "ADA", State: models.StateDone, Win: models.WinYes}
	close(ch)

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	if err := c.Shutdown(sctx); err != nil {
		t.Fatal(err)
	}

	got := c.Recent(0)
	if len(got) != 3 || got[0].Win != models.WinYes || got[1].TradeID != "d" || got[2].TradeID != "c" {
		t.Fatalf("recent = %+v", got)
	}
	if two := c.Recent(2); len(two) != 2 {
		t.Fatalf("limit ignored: %d", len(two))
	}
	counts := c.Counts()
	if counts[models.StateDone] != 3 || counts[models.StateFailed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestTradeCollectorEmpty(t *testing.T) {
	c := NewTradeCollector(make(chan models.TradeResult), 4, logger.Nop())
	if got := c.Recent(10); len(got) != 0 {
		t.Fatalf("recent = %+v", got)
	}
}
