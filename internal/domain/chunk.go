package domain

import (
	"fmt"
	"strings"
)

// AllProducts is the product filter choice that searches the whole corpus.
const AllProducts = "All"

// Complaint is one row of the cleaned complaints dataset fed to the chunker.
type Complaint struct {
	RowID       int
	Product     string
	ComplaintID string
	Narrative   string
}

// ChunkRecord is a bounded slice of a complaint narrative, the unit of retrieval.
type ChunkRecord struct {
	ChunkID           string
	Product           string
	ComplaintID       string
	ChunkText         string
	OriginalNarrative string

	// Malformed is set when the source could not parse the row. The record
	// then carries no usable fields and fails validation.
	Malformed error
}

// ChunkID derives the stable identifier for the position-th chunk of a row.
func ChunkID(rowID, position int) string {
	return fmt.Sprintf("%d_%d", rowID, position)
}

// Validate checks the fields every stored document needs.
func (r ChunkRecord) Validate() error {
	if r.Malformed != nil {
		return NewDomainErrorWithCause(ErrCodeSourceFormat, "malformed chunk record", r.Malformed)
	}

	var missing []string
	if strings.TrimSpace(r.ChunkID) == "" {
		missing = append(missing, "chunk_id")
	}
	if strings.TrimSpace(r.ChunkText) == "" {
		missing = append(missing, "chunk_text")
	}
	if strings.TrimSpace(r.Product) == "" {
		missing = append(missing, "product")
	}
	if strings.TrimSpace(r.ComplaintID) == "" {
		missing = append(missing, "complaint_id")
	}
	if len(missing) > 0 {
		return NewDomainErrorWithCause(ErrCodeSourceFormat, "chunk record is missing required fields",
			fmt.Errorf("%s", strings.Join(missing, ", ")))
	}
	return nil
}

// EmbeddedDocument is a chunk as persisted in the vector store. Only product,
// complaint id and chunk id travel as metadata; the chunk text is the body.
type EmbeddedDocument struct {
	ChunkID     string
	Product     string
	ComplaintID string
	Text        string
	Embedding   []float32
}

// NewEmbeddedDocument pairs a chunk record with its embedding.
func NewEmbeddedDocument(r ChunkRecord, embedding []float32) EmbeddedDocument {
	return EmbeddedDocument{
		ChunkID:     r.ChunkID,
		Product:     r.Product,
		ComplaintID: r.ComplaintID,
		Text:        r.ChunkText,
		Embedding:   embedding,
	}
}

// RetrievedDocument is a search hit. Vectors are never exposed to callers.
type RetrievedDocument struct {
	ChunkID     string
	Product     string
	ComplaintID string
	Text        string
	Score       float64
}
