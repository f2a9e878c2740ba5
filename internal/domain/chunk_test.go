package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	assert.Equal(t, "5_0", ChunkID(5, 0))
	assert.Equal(t, "12_3", ChunkID(12, 3))
}

func TestChunkRecord_Validate(t *testing.T) {
	valid := ChunkRecord{
		ChunkID:     "1_0",
		Product:     "Credit card",
		ComplaintID: "100",
		ChunkText:   "charged twice",
	}

	tests := []struct {
		name    string
		mutate  func(r *ChunkRecord)
		wantErr string
	}{
		{"Valid", func(r *ChunkRecord) {}, ""},
		{"MissingChunkID", func(r *ChunkRecord) { r.ChunkID = "" }, "chunk_id"},
		{"BlankText", func(r *ChunkRecord) { r.ChunkText = "  " }, "chunk_text"},
		{"MissingProduct", func(r *ChunkRecord) { r.Product = "" }, "product"},
		{"MissingComplaintID", func(r *ChunkRecord) { r.ComplaintID = "" }, "complaint_id"},
		{"Malformed", func(r *ChunkRecord) { r.Malformed = errors.New("line 4: 6 fields, header has 4") }, "line 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSourceFormat))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewEmbeddedDocument(t *testing.T) {
	r := ChunkRecord{ChunkID: "7_0", Product: "Mortgage", ComplaintID: "9", ChunkText: "escrow", OriginalNarrative: "escrow issue"}
	doc := NewEmbeddedDocument(r, []float32{0.1, 0.2})

	assert.Equal(t, "7_0", doc.ChunkID)
	assert.Equal(t, "Mortgage", doc.Product)
	assert.Equal(t, "9", doc.ComplaintID)
	assert.Equal(t, "escrow", doc.Text)
	assert.Equal(t, []float32{0.1, 0.2}, doc.Embedding)
}
