package service

import (
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/creditrust/internal/domain"
)

// defaultSeparators are tried in order: paragraphs, lines, sentences, words, runes.
var defaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// ChunkConfig controls narrative chunking. Sizes are counted in runes.
type ChunkConfig struct {
	Size    int
	Overlap int
}

// DefaultChunkConfig matches the sizes the complaint index was built with.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    300,
		Overlap: 50,
	}
}

// NewChunkConfig validates size and overlap.
func NewChunkConfig(size, overlap int) (ChunkConfig, error) {
	if size <= 0 {
		return ChunkConfig{}, domain.NewConfigurationError("chunk_size", "must be positive")
	}
	if overlap < 0 || overlap >= size {
		return ChunkConfig{}, domain.NewConfigurationError("chunk_overlap", "must be between 0 and chunk_size-1")
	}
	return ChunkConfig{Size: size, Overlap: overlap}, nil
}

// ChunkText splits narrative into trimmed chunks of at most cfg.Size runes.
// It prefers the coarsest separator present, recursing into pieces that are
// still too long, and greedily merges small pieces while carrying up to
// cfg.Overlap runes of the previous chunk into the next one.
// Empty or whitespace-only input yields no chunks.
func ChunkText(narrative string, cfg ChunkConfig) []string {
	if cfg.Size <= 0 {
		cfg = DefaultChunkConfig()
	}
	s := splitter{size: cfg.Size, overlap: cfg.Overlap}
	return s.split(narrative, defaultSeparators)
}

// ChunkComplaints chunks every complaint, assigning "<row>_<position>" ids.
func ChunkComplaints(complaints []domain.Complaint, cfg ChunkConfig) []domain.ChunkRecord {
	records := make([]domain.ChunkRecord, 0, len(complaints))
	for _, c := range complaints {
		for i, chunk := range ChunkText(c.Narrative, cfg) {
			records = append(records, domain.ChunkRecord{
				ChunkID:           domain.ChunkID(c.RowID, i),
				Product:           c.Product,
				ComplaintID:       c.ComplaintID,
				ChunkText:         chunk,
				OriginalNarrative: c.Narrative,
			})
		}
	}
	return records
}

type splitter struct {
	size    int
	overlap int
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (s splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var chunks []string
	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			if chunk, ok := joinPieces([]string{piece}); ok {
				chunks = append(chunks, chunk)
			}
		} else {
			chunks = append(chunks, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}

	return chunks
}

// splitKeepingSeparator splits on sep and re-attaches it to the start of each
// following piece. An empty sep splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, p := range parts[1:] {
		pieces = append(pieces, sep+p)
	}
	return pieces
}

// merge joins adjacent pieces into chunks no longer than size, starting each
// new chunk with trailing pieces of the previous one worth at most overlap runes.
func (s splitter) merge(pieces []string) []string {
	var chunks []string
	var current []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.size && len(current) > 0 {
			if chunk, ok := joinPieces(current); ok {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if chunk, ok := joinPieces(current); ok {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func joinPieces(pieces []string) (string, bool) {
	text := strings.TrimSpace(strings.Join(pieces, ""))
	return text, text != ""
}
