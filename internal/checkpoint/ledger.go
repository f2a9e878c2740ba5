// Package checkpoint records which chunk ids are already durable in the vector
// store so ingestion can resume without re-embedding them.
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileLedger is an append-only, newline-delimited list of chunk ids.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string {
	return l.path
}

// Load returns every recorded id. A missing file is an empty ledger.
// A final line without a trailing newline is a torn append and is ignored.
func (l *FileLedger) Load() (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make(map[string]struct{})

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint ledger: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint ledger: %w", err)
		}
		if id := strings.TrimSpace(line); id != "" {
			ids[id] = struct{}{}
		}
	}

	return ids, nil
}

// Append durably adds ids in a single write followed by fsync.
func (l *FileLedger) Append(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint ledger: %w", err)
	}
	defer f.Close()

	if err := dropTornTail(f); err != nil {
		return err
	}

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append to checkpoint ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint ledger: %w", err)
	}

	return nil
}

// dropTornTail truncates a final line left without its newline by an
// interrupted append. Only the unterminated fragment is removed; it may be a
// prefix of a real id and must not be read back as one.
func dropTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat checkpoint ledger: %w", err)
	}

	end := info.Size()
	keep := end
	buf := make([]byte, 4096)
	for keep > 0 {
		n := int64(len(buf))
		if keep < n {
			n = keep
		}
		chunk := buf[:n]
		if _, err := f.ReadAt(chunk, keep-n); err != nil {
			return fmt.Errorf("failed to read checkpoint ledger: %w", err)
		}
		if i := strings.LastIndexByte(string(chunk), '\n'); i >= 0 {
			keep = keep - n + int64(i) + 1
			break
		}
		keep -= n
	}

	if keep == end {
		return nil
	}
	if err := f.Truncate(keep); err != nil {
		return fmt.Errorf("failed to truncate torn checkpoint entry: %w", err)
	}
	return nil
}

// Memory is an in-process ledger.
type Memory struct {
	mu  sync.Mutex
	ids []string
}

func NewMemory(ids ...string) *Memory {
	return &Memory{ids: append([]string(nil), ids...)}
}

func (m *Memory) Load() (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]struct{}, len(m.ids))
	for _, id := range m.ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (m *Memory) Append(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ids = append(m.ids, ids...)
	return nil
}

// IDs returns every appended id in order, duplicates included.
func (m *Memory) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.ids...)
}
