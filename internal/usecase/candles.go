package usecase

import (
	"fmt"
	"strings"
	"sync"

	"OtcPull/internal/domain/models"
)

// CandleCapacity bounds every per-asset history.
const CandleCapacity = 20

type candleRing struct {
	mu   sync.Mutex
	buf  [CandleCapacity]models.Direction
	head int // next write slot
	n    int
}

func (r *candleRing) push(d models.Direction) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % CandleCapacity
	if r.n < CandleCapacity {
		r.n++
	}
}

// lastK returns the newest k directions, oldest first. Caller holds mu.
func (r *candleRing) lastK(k int) []models.Direction {
	out := make([]models.Direction, k)
	for i := 0; i < k; i++ {
		idx := (r.head - k + i + CandleCapacity) % CandleCapacity
		out[i] = r.buf[idx]
	}
	return out
}

// CandleStore keeps the last CandleCapacity directions per configured asset.
// The asset set is fixed at construction; mutations are serialized per asset.
type CandleStore struct {
	rings map[string]*candleRing
}

// NewCandleStore creates one empty ring per asset.
func NewCandleStore(assets []string) *CandleStore {
	s := &CandleStore{rings: make(map[string]*candleRing, len(assets))}
	for _, a := range assets {
		s.rings[a] = &candleRing{}
	}
	return s
}

func (s *CandleStore) ring(asset string) (*candleRing, error) {
	r, ok := s.rings[asset]
	if !ok {
		return nil, fmt.Errorf("candle store %q: %w", asset, models.ErrUnknownAsset)
	}
	return r, nil
}

// Observe appends d, evicting the oldest sample when full.
func (s *CandleStore) Observe(asset string, d models.Direction) error {
	r, err := s.ring(asset)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.push(d)
	r.mu.Unlock()
	return nil
}

// Recent returns the newest k directions oldest first, or nil, false when
// fewer than k samples exist.
func (s *CandleStore) Recent(asset string, k int) ([]models.Direction, bool) {
	r, ok := s.rings[asset]
	if !ok || k <= 0 || k > CandleCapacity {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < k {
		return nil, false
	}
	return r.lastK(k), true
}

// Last returns the most recent direction.
func (s *CandleStore) Last(asset string) (models.Direction, bool) {
	d, ok := s.Recent(asset, 1)
	if !ok {
		return "", false
	}
	return d[0], true
}

func (s *CandleStore) Len(asset string) int {
	r, ok := s.rings[asset]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Seed replaces the history with pattern (oldest first). Patterns longer
// than the capacity keep their newest tail.
func (s *CandleStore) Seed(asset string, pattern []models.Direction) error {
	r, err := s.ring(asset)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.n = 0, 0
	for _, d := range pattern {
		r.push(d)
	}
	return nil
}

// Assets lists the configured assets.
func (s *CandleStore) Assets() []string {
	out := make([]string, 0, len(s.rings))
	for a := range s.rings {
		out = append(out, a)
	}
	return out
}

// Snapshot renders an asset's full history as a U/D string.
func (s *CandleStore) Snapshot(asset string) string {
	n := s.Len(asset)
	if n == 0 {
		return ""
	}
	ds, _ := s.Recent(asset, n)
	return PatternKey(ds)
}

// PatternKey renders directions as "UDD...".
func PatternKey(ds []models.Direction) string {
	var b strings.Builder
	b.Grow(len(ds))
	for _, d := range ds {
		b.WriteByte(d.Letter())
	}
	return b.String()
}

// ParsePattern is the inverse of PatternKey; it also accepts UP/DOWN words.
func ParsePattern(items []string) ([]models.Direction, error) {
	out := make([]models.Direction, 0, len(items))
	for _, it := range items {
		d, err := models.ParseDirection(it)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
