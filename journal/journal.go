// Package journal records section activations in SQLite.
//
// Entries are queued by Observe and written in batches by a background
// goroutine, so Show never waits on disk. Record writes synchronously.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/dashctl/idgen"
	"github.com/hazyhaar/dashctl/kit"
	"github.com/hazyhaar/dashctl/section"
)

// Schema creates the activations table.
const Schema = `
CREATE TABLE IF NOT EXISTS activations (
	entry_id      TEXT PRIMARY KEY,
	at            INTEGER NOT NULL,
	section_id    TEXT NOT NULL,
	previous_id   TEXT NOT NULL DEFAULT '',
	hooks         INTEGER NOT NULL DEFAULT 0,
	hook_failures INTEGER NOT NULL DEFAULT 0,
	duration_us   INTEGER NOT NULL DEFAULT 0,
	transport     TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_activations_at ON activations(at DESC);
CREATE INDEX IF NOT EXISTS idx_activations_section ON activations(section_id, at DESC);
`

// Entry is one recorded activation.
type Entry struct {
	EntryID      string        `json:"entry_id"`
	At           time.Time     `json:"at"`
	SectionID    string        `json:"section_id"`
	PreviousID   string        `json:"previous_id,omitempty"`
	Hooks        int           `json:"hooks"`
	HookFailures int           `json:"hook_failures"`
	Duration     time.Duration `json:"duration"`
	Transport    string        `json:"transport,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
}

const insertSQL = `INSERT INTO activations
	(entry_id, at, section_id, previous_id, hooks, hook_failures, duration_us, transport, request_id)
	VALUES (?,?,?,?,?,?,?,?,?)`

// Journal is the activation log.
type Journal struct {
	db       *sql.DB
	newID    idgen.Generator
	logger   *slog.Logger
	ch       chan Entry
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets the entry ID generator. Default: "act_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(j *Journal) { j.newID = gen }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// Open applies Schema and starts the flush loop. bufferSize bounds the
// queue; 256 is plenty for interactive use.
func Open(ctx context.Context, db *sql.DB, bufferSize int, opts ...Option) (*Journal, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	j := &Journal{
		db:       db,
		newID:    idgen.Prefixed("act_", idgen.Default),
		logger:   slog.Default(),
		ch:       make(chan Entry, bufferSize),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	go j.flushLoop()
	return j, nil
}

// Observe is a section.Observer: it queues the transition, falling back
// to a synchronous insert when the queue is full.
func (j *Journal) Observe(ctx context.Context, t section.Transition) {
	e := j.entry(ctx, t)
	select {
	case j.ch <- e:
	default:
		j.logger.Warn("journal: buffer full, writing synchronously", "section", t.SectionID)
		if err := j.insert(context.Background(), e); err != nil {
			j.logger.Error("journal: insert", "error", err)
		}
	}
}

// Record writes a transition synchronously.
func (j *Journal) Record(ctx context.Context, t section.Transition) (Entry, error) {
	e := j.entry(ctx, t)
	if err := j.insert(ctx, e); err != nil {
		return e, fmt.Errorf("journal: record: %w", err)
	}
	return e, nil
}

func (j *Journal) entry(ctx context.Context, t section.Transition) Entry {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	return Entry{
		EntryID:      j.newID(),
		At:           at,
		SectionID:    t.SectionID,
		PreviousID:   t.Previous,
		Hooks:        t.Hooks,
		HookFailures: t.HookFailures,
		Duration:     t.Duration,
		Transport:    kit.GetTransport(ctx),
		RequestID:    kit.GetRequestID(ctx),
	}
}

// Filter narrows Recent.
type Filter struct {
	SectionID string // empty = all sections
	Limit     int    // default 50, max 1000
}

// Recent returns the latest entries, newest first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	q := `SELECT entry_id, at, section_id, previous_id, hooks, hook_failures, duration_us, transport, request_id
		FROM activations`
	var args []any
	if f.SectionID != "" {
		q += ` WHERE section_id = ?`
		args = append(args, f.SectionID)
	}
	q += ` ORDER BY at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var atMs, durUs int64
		if err := rows.Scan(&e.EntryID, &atMs, &e.SectionID, &e.PreviousID,
			&e.Hooks, &e.HookFailures, &durUs, &e.Transport, &e.RequestID); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At = time.UnixMilli(atMs)
		e.Duration = time.Duration(durUs) * time.Microsecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Flush blocks until every entry queued before the call is written.
func (j *Journal) Flush() {
	ack := make(chan struct{})
	select {
	case j.flushReq <- ack:
		<-ack
	case <-j.done:
	}
}

// Close drains the queue and stops the flush loop.
func (j *Journal) Close() error {
	select {
	case <-j.stop:
	default:
		close(j.stop)
	}
	<-j.done
	return nil
}

func (j *Journal) insert(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, insertSQL,
		e.EntryID, e.At.UnixMilli(), e.SectionID, e.PreviousID,
		e.Hooks, e.HookFailures, e.Duration.Microseconds(), e.Transport, e.RequestID)
	return err
}
