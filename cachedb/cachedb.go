// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cachedb/cachedb.go
// Summary: SQLite-backed eviction/access audit log for the graphics cache.

package cachedb

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Log satisfies graphics.EvictionSink, recording every eviction and
// deletion the store performs so a host can audit cache churn after the
// fact. Writes are batched on a background goroutine; RecordEviction
// never blocks on disk I/O.
type Log struct {
	db *sql.DB

	batchChan chan entry
	stopCh    chan struct{}
	doneCh    chan struct{}
	flushCh   chan chan struct{}

	mu sync.Mutex
}

type entry struct {
	timestamp            time.Time
	kind                 string
	imageID, placementID uint32
	reason               string
}

const schema = `
CREATE TABLE IF NOT EXISTS evictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp INTEGER NOT NULL,
    kind TEXT NOT NULL,
    image_id INTEGER NOT NULL,
    placement_id INTEGER NOT NULL,
    reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evictions_timestamp ON evictions(timestamp);
CREATE INDEX IF NOT EXISTS idx_evictions_image ON evictions(image_id);
`

const defaultBatchSize = 50
const defaultBatchTimeout = 2 * time.Second

// Open creates (or reuses) a SQLite database at path and starts the
// background batch writer.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cachedb: create directory: %w", err)
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cachedb: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cachedb: connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cachedb: create schema: %w", err)
	}

	l := &Log{
		db:        db,
		batchChan: make(chan entry, 500),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		flushCh:   make(chan chan struct{}),
	}
	go l.batchWriter()
	return l, nil
}

// RecordEviction implements graphics.EvictionSink.
func (l *Log) RecordEviction(kind string, imageID, placementID uint32, reason string) {
	e := entry{timestamp: time.Now(), kind: kind, imageID: imageID, placementID: placementID, reason: reason}
	select {
	case l.batchChan <- e:
	default:
		log.Printf("cachedb: eviction log channel full, dropping entry kind=%s image=%d", kind, imageID)
	}
}

func (l *Log) batchWriter() {
	defer close(l.doneCh)

	batch := make([]entry, 0, defaultBatchSize)
	timer := time.NewTimer(defaultBatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.batchChan:
			batch = append(batch, e)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultBatchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultBatchTimeout)
		case done := <-l.flushCh:
		drain:
			for {
				select {
				case e := <-l.batchChan:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			flush()
			close(done)
		case <-l.stopCh:
			for {
				select {
				case e := <-l.batchChan:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Log) writeBatch(batch []entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		log.Printf("cachedb: begin transaction: %v", err)
		return
	}
	stmt, err := tx.Prepare("INSERT INTO evictions (timestamp, kind, image_id, placement_id, reason) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		log.Printf("cachedb: prepare insert: %v", err)
		tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.timestamp.UnixNano(), e.kind, e.imageID, e.placementID, e.reason); err != nil {
			log.Printf("cachedb: insert eviction row: %v", err)
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("cachedb: commit batch: %v", err)
	}
}

// Flush blocks until every queued entry has been written.
func (l *Log) Flush() error {
	done := make(chan struct{})
	select {
	case l.flushCh <- done:
		<-done
	case <-l.stopCh:
	}
	return nil
}

// Close flushes pending writes and closes the database.
func (l *Log) Close() error {
	close(l.stopCh)
	<-l.doneCh
	return l.db.Close()
}

// Recent returns the most recent eviction records, newest first, for
// debugging and demo tooling.
func (l *Log) Recent(limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(
		"SELECT timestamp, kind, image_id, placement_id, reason FROM evictions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cachedb: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var tsNano int64
		if err := rows.Scan(&tsNano, &r.Kind, &r.ImageID, &r.PlacementID, &r.Reason); err != nil {
			continue
		}
		r.Timestamp = time.Unix(0, tsNano)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Record is a single audited eviction or deletion.
type Record struct {
	Timestamp            time.Time
	Kind                 string
	ImageID, PlacementID uint32
	Reason               string
}
