package job

import (
	"context"
	"fmt"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
)

// ChunkWriter buffers records and upserts them in fixed-size chunks, one
// chunk at a time. A failed chunk does not undo the chunks before it.
type ChunkWriter struct {
	records repository.EntityRecordRepository
	size    int
	buffer  []models.EntityRecord
	written int
}

func NewChunkWriter(records repository.EntityRecordRepository, size int) *ChunkWriter {
	if size <= 0 {
		size = 1
	}
	return &ChunkWriter{
		records: records,
		size:    size,
		buffer:  make([]models.EntityRecord, 0, size),
	}
}

func (w *ChunkWriter) Add(ctx context.Context, records ...models.EntityRecord) error {
	for _, record := range records {
		w.buffer = append(w.buffer, record)
		if len(w.buffer) >= w.size {
			if err := w.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *ChunkWriter) Flush(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}
	chunk := w.buffer
	w.buffer = make([]models.EntityRecord, 0, w.size)

	written, err := w.records.UpsertRecords(ctx, chunk)
	if err != nil {
		return fmt.Errorf("failed to upsert %d records: %w", len(chunk), err)
	}
	w.written += written
	return nil
}

// Written is the number of records upserted so far.
func (w *ChunkWriter) Written() int {
	return w.written
}
