package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cloo-solutions/creditrust/internal/domain"
)

// Chunk dataset columns, in the order WriteChunkRecords emits them.
const (
	ColumnChunkID           = "chunk_id"
	ColumnProduct           = "product"
	ColumnComplaintID       = "complaint_id"
	ColumnChunkText         = "chunk_text"
	ColumnOriginalNarrative = "original_narrative"
)

var chunkColumns = []string{
	ColumnChunkID,
	ColumnProduct,
	ColumnComplaintID,
	ColumnChunkText,
	ColumnOriginalNarrative,
}

// Complaint dataset columns read by ReadComplaints.
const (
	ComplaintColumnProduct   = "Product"
	ComplaintColumnID        = "Complaint ID"
	ComplaintColumnNarrative = "cleaned_narrative"
)

// Opener opens a dataset location for reading.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// CSVSource streams chunk records from a CSV file with a header row.
// Columns are matched by name; a missing column yields empty fields, which
// batch validation rejects downstream.
type CSVSource struct {
	location string
	opener   Opener
}

func NewCSVSource(location string, opener Opener) *CSVSource {
	return &CSVSource{location: location, opener: opener}
}

func (s *CSVSource) Location() string {
	return s.location
}

// Scan reopens the file and calls fn with consecutive batches of at most
// batchSize records in file order. An error from fn stops the scan and is
// returned unchanged.
//
// A row that cannot be parsed, or that has more fields than the header, does
// not stop the scan: it is passed on as a record with Malformed set so the
// batch holding it fails validation.
func (s *CSVSource) Scan(ctx context.Context, batchSize int, fn func(batch []domain.ChunkRecord) error) error {
	if batchSize <= 0 {
		return domain.NewConfigurationError("batch_size", "must be positive")
	}

	rc, err := s.opener.Open(ctx, s.location)
	if err != nil {
		return err
	}
	defer rc.Close()

	r := newReader(rc)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return sourceFormatError(s.location, err)
	}
	cols := indexColumns(header)

	batch := make([]domain.ChunkRecord, 0, batchSize)
	flush := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = make([]domain.ChunkRecord, 0, batchSize)
		return nil
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		switch {
		case errors.As(err, &parseErr):
			batch = append(batch, domain.ChunkRecord{Malformed: err})
		case err != nil:
			return sourceFormatError(s.location, err)
		case len(row) > len(header):
			line, _ := r.FieldPos(0)
			batch = append(batch, domain.ChunkRecord{
				Malformed: fmt.Errorf("line %d: %d fields, header has %d", line, len(row), len(header)),
			})
		default:
			batch = append(batch, domain.ChunkRecord{
				ChunkID:           cols.get(row, ColumnChunkID),
				Product:           cols.get(row, ColumnProduct),
				ComplaintID:       cols.get(row, ColumnComplaintID),
				ChunkText:         cols.get(row, ColumnChunkText),
				OriginalNarrative: cols.get(row, ColumnOriginalNarrative),
			})
		}

		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if len(batch) > 0 {
		return flush()
	}
	return nil
}

// ReadComplaints parses the cleaned complaints dataset. Rows are numbered
// from zero in file order; a missing or empty Complaint ID falls back to the
// row number.
func ReadComplaints(r io.Reader) ([]domain.Complaint, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, sourceFormatError("complaints", err)
	}

	cols := indexColumns(header)
	for _, required := range []string{ComplaintColumnProduct, ComplaintColumnNarrative} {
		if !cols.has(required) {
			return nil, domain.NewDomainError(domain.ErrCodeSourceFormat,
				fmt.Sprintf("complaints dataset is missing the %q column", required))
		}
	}

	var complaints []domain.Complaint
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, sourceFormatError("complaints", err)
		}

		id := cols.get(rec, ComplaintColumnID)
		if id == "" {
			id = strconv.Itoa(row)
		}
		complaints = append(complaints, domain.Complaint{
			RowID:       row,
			Product:     cols.get(rec, ComplaintColumnProduct),
			ComplaintID: id,
			Narrative:   cols.get(rec, ComplaintColumnNarrative),
		})
	}
	return complaints, nil
}

// WriteChunkRecords writes records with a header row.
func WriteChunkRecords(w io.Writer, records []domain.ChunkRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(chunkColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{r.ChunkID, r.Product, r.ComplaintID, r.ChunkText, r.OriginalNarrative}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	// A quote inside an unquoted field is kept as text.
	cr.LazyQuotes = true
	return cr
}

type columns map[string]int

func indexColumns(header []string) columns {
	cols := make(columns, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func (c columns) has(name string) bool {
	_, ok := c[name]
	return ok
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func sourceFormatError(location string, err error) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeSourceFormat, "malformed CSV in "+location, err)
}
