package source

import (
	"context"

	"github.com/cloo-solutions/creditrust/internal/domain"
)

// SliceSource serves records held in memory.
type SliceSource struct {
	Records []domain.ChunkRecord
}

func NewSliceSource(records ...domain.ChunkRecord) *SliceSource {
	return &SliceSource{Records: records}
}

func (s *SliceSource) Scan(ctx context.Context, batchSize int, fn func(batch []domain.ChunkRecord) error) error {
	if batchSize <= 0 {
		return domain.NewConfigurationError("batch_size", "must be positive")
	}
	for start := 0; start < len(s.Records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(s.Records))
		batch := make([]domain.ChunkRecord, end-start)
		copy(batch, s.Records[start:end])
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}
