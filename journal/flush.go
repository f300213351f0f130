package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/dashctl/dbopen"
)

const (
	batchSize     = 100
	flushInterval = 2 * time.Second
)

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]Entry, 0, batchSize)

	drain := func() {
		for {
			select {
			case e := <-j.ch:
				batch = append(batch, e)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-j.stop:
			drain()
			batch = j.write(batch)
			return
		case ack := <-j.flushReq:
			drain()
			batch = j.write(batch)
			close(ack)
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				batch = j.write(batch)
			}
		case <-ticker.C:
			batch = j.write(batch)
		}
	}
}

// write inserts batch in one transaction and returns it emptied. A busy
// database retries the whole batch; a row the database refuses is logged
// and skipped.
func (j *Journal) write(batch []Entry) []Entry {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	skipped := 0
	err := dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		skipped = 0
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.EntryID, e.At.UnixMilli(), e.SectionID, e.PreviousID,
				e.Hooks, e.HookFailures, e.Duration.Microseconds(), e.Transport, e.RequestID,
			); err != nil {
				if dbopen.IsBusy(err) {
					return err
				}
				skipped++
				j.logger.Error("journal: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		return nil
	})
	if err != nil {
		j.logger.Error("journal: write batch", "error", err, "dropped", len(batch))
	} else if skipped > 0 {
		j.logger.Warn("journal: batch written with skipped rows", "written", len(batch)-skipped, "skipped", skipped)
	}
	return batch[:0]
}
