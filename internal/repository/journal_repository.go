package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"OtcPull/internal/domain/models"
	"OtcPull/internal/domain/repository"
)

// FileJournal appends one JSON object per line. Writes are serialized and
// each line is written with a single call so readers never see a partial
// entry.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileJournal opens (or creates) path in append mode.
func NewFileJournal(path string) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(_ context.Context, e models.JournalEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	b = append(b, '\n')
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("journal closed")
	}
	if _, err := j.f.Write(b); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// publisher is the part of pkg/kafka.Producer the journal needs.
type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaJournal publishes entries keyed by asset so one asset's history
// stays ordered on one partition.
type KafkaJournal struct {
	producer publisher
	topic    string
}

func NewKafkaJournal(producer publisher, topic string) *KafkaJournal {
	return &KafkaJournal{producer: producer, topic: topic}
}

func (k *KafkaJournal) Append(ctx context.Context, e models.JournalEntry) error {
	return k.producer.Publish(ctx, k.topic, []byte(e.Asset), e)
}

func (k *KafkaJournal) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// execer is satisfied by *sql.DB.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// JournalSchema returns the DDL for the ClickHouse journal table.
func JournalSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	ts DateTime64(3, 'UTC'),
	asset LowCardinality(String),
	direction LowCardinality(String),
	anchor DateTime('UTC'),
	state LowCardinality(String),
	order_id String,
	reason String,
	win Nullable(UInt8)
) ENGINE = MergeTree ORDER BY (asset, anchor, ts)`, database, table),
	}
}

// ClickHouseJournal inserts one row per entry.
type ClickHouseJournal struct {
	db    execer
	table string
}

func NewClickHouseJournal(db execer, table string) *ClickHouseJournal {
	return &ClickHouseJournal{db: db, table: table}
}

func (c *ClickHouseJournal) Append(ctx context.Context, e models.JournalEntry) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, asset, direction, anchor, state, order_id, reason, win) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", c.table)
	var win any
	if e.Win != nil {
		if *e.Win {
			win = uint8(1)
		} else {
			win = uint8(0)
		}
	}
	if _, err := c.db.ExecContext(ctx, q,
		e.TS.UTC(),
		e.Asset,
		string(e.Direction),
		e.Anchor.UTC(),
		e.State,
		e.OrderID,
		e.Reason,
		win,
	); err != nil {
		return fmt.Errorf("clickhouse journal insert: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (c *ClickHouseJournal) Close() error { return nil }

// MultiJournal fans every entry out to all sinks. A failing sink does not
// stop the others; their errors are joined.
type MultiJournal struct {
	sinks []repository.Journal
}

func NewMultiJournal(sinks ...repository.Journal) *MultiJournal {
	out := make([]repository.Journal, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiJournal{sinks: out}
}

func (m *MultiJournal) Append(ctx context.Context, e models.JournalEntry) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiJournal) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ repository.Journal = (*FileJournal)(nil)
	_ repository.Journal = (*KafkaJournal)(nil)
	_ repository.Journal = (*ClickHouseJournal)(nil)
	_ repository.Journal = (*MultiJournal)(nil)
)
