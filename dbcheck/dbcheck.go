// Package dbcheck verifies that text survives a round trip through the
// database unchanged: each sample is inserted, read back, compared byte
// for byte, then deleted.
package dbcheck

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/dashctl/dbopen"
	"github.com/hazyhaar/dashctl/idgen"
)

// Schema creates the round-trip table.
const Schema = `
CREATE TABLE IF NOT EXISTS encoding_check (
	check_id   TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	sample     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Sample is one string sent through the driver.
type Sample struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DefaultSamples covers the encodings a dashboard is likely to display.
var DefaultSamples = []Sample{
	{"ascii", "Dashboard status: OK"},
	{"latin1", "Café crème, naïve façade, Übergröße"},
	{"cjk", "控制面板 ダッシュボード 대시보드"},
	{"rtl", "لوحة القيادة"},
	{"emoji", "\u2705 \U0001F680 \U0001F469\u200D\U0001F4BB"},
	{"combining", "e\u0301 a\u0308 n\u0303"},
	{"quotes", `O'Reilly "quoted" \backslash`},
}

// Result is the outcome for one sample.
type Result struct {
	Name     string `json:"name"`
	Sample   string `json:"sample"`
	ReadBack string `json:"read_back"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Report aggregates a run.
type Report struct {
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether every sample round-tripped.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return len(r.Results) > 0
}

// ErrMismatch marks a sample whose read-back differs from what was written.
var ErrMismatch = errors.New("dbcheck: read-back mismatch")

// Checker runs round trips against one database.
type Checker struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

type Option func(*Checker)

func WithIDGenerator(gen idgen.Generator) Option {
	return func(c *Checker) { c.newID = gen }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// New applies Schema and returns a Checker.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Checker, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("dbcheck: schema: %w", err)
	}
	c := &Checker{db: db, newID: idgen.Prefixed("chk_", idgen.Default), logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Run round-trips every sample, DefaultSamples when none are given. A failing
// sample does not stop the run; the returned error is only for a
// cancelled context.
func (c *Checker) Run(ctx context.Context, samples ...Sample) (Report, error) {
	if len(samples) == 0 {
		samples = DefaultSamples
	}
	start := time.Now()
	rep := Report{Results: make([]Result, 0, len(samples))}
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := Result{Name: s.Name, Sample: s.Text}
		back, err := c.roundTrip(ctx, s)
		res.ReadBack = back
		if err != nil {
			res.Error = err.Error()
			c.logger.Warn("dbcheck: round trip failed", "name", s.Name, "error", err)
		} else {
			res.OK = true
		}
		rep.Results = append(rep.Results, res)
	}
	rep.Duration = time.Since(start)
	return rep, nil
}

func (c *Checker) roundTrip(ctx context.Context, s Sample) (string, error) {
	id := c.newID()
	if _, err := dbopen.Exec(ctx, c.db,
		`INSERT INTO encoding_check (check_id, name, sample, created_at) VALUES (?, ?, ?, ?)`,
		id, s.Name, s.Text, time.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	defer func() {
		if _, err := dbopen.Exec(context.WithoutCancel(ctx), c.db,
			`DELETE FROM encoding_check WHERE check_id = ?`, id); err != nil {
			c.logger.Error("dbcheck: cleanup", "check_id", id, "error", err)
		}
	}()

	var back []byte
	if err := c.db.QueryRowContext(ctx,
		`SELECT CAST(sample AS BLOB) FROM encoding_check WHERE check_id = ?`, id).Scan(&back); err != nil {
		return "", fmt.Errorf("read back: %w", err)
	}
	if !bytes.Equal(back, []byte(s.Text)) {
		return string(back), fmt.Errorf("%w: wrote % x, read % x", ErrMismatch, []byte(s.Text), back)
	}
	return string(back), nil
}

// Leftovers counts check rows still present, which should be zero after
// any run.
func (c *Checker) Leftovers(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encoding_check`).Scan(&n)
	return n, err
}
