package database

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio"
)

// maxStoreLineBytes bounds a single record. 512 floats need well under 16 KiB.
const maxStoreLineBytes = 4 << 20

// FileStore persists identities as comma-separated lines: name,v0,v1,...,v{D-1}.
// There is no header. Writes go to a temporary file that is renamed over the
// store, so a crash never leaves a truncated file behind.
type FileStore struct {
	path string
	dim  int
}

// NewFileStore creates a store for dim-dimensional embeddings at path.
func NewFileStore(path string, dim int) *FileStore {
	return &FileStore{path: path, dim: dim}
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes all identities, replacing the previous file.
func (s *FileStore) Save(ctx context.Context, identities []Identity) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	record := make([]string, 0, s.dim+1)
	for _, id := range identities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(id.Embedding) != s.dim {
			return fmt.Errorf("%w: identity %q has %d components, want %d", ErrDimensionMismatch, id.Name, len(id.Embedding), s.dim)
		}
		record = record[:0]
		record = append(record, id.Name)
		for _, v := range id.Embedding {
			// Shortest representation that parses back to the same float32.
			record = append(record, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("encoding identity %q: %w", id.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding identities: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing identity store %s: %w", s.path, err)
	}
	return nil
}

// Load reads all well-formed records. Malformed lines are skipped and reported;
// an I/O failure aborts the whole load.
func (s *FileStore) Load(ctx context.Context) ([]Identity, []Diagnostic, error) {
	f, err := os.Open(s.path) //nolint:gosec // path is from trusted config
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", ErrStoreNotFound, s.path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening identity store: %w", err)
	}
	defer f.Close()

	var (
		identities []Identity
		diags      []Diagnostic
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStoreLineBytes)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		id, err := s.parseLine(line)
		if err != nil {
			diags = append(diags, Diagnostic{Line: lineNo, Message: err.Error()})
			continue
		}
		identities = append(identities, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, diags, fmt.Errorf("reading identity store at line %d: %w", lineNo+1, err)
	}

	return identities, diags, nil
}

// parseLine decodes one record.
func (s *FileStore) parseLine(line string) (Identity, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return Identity{}, fmt.Errorf("malformed record: %w", err)
	}
	if len(fields) != s.dim+1 {
		return Identity{}, fmt.Errorf("expected %d fields, got %d", s.dim+1, len(fields))
	}

	name := fields[0]
	if strings.TrimSpace(name) == "" {
		return Identity{}, errors.New("empty name")
	}

	emb := make([]float32, s.dim)
	for i, field := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return Identity{}, fmt.Errorf("field %d: non-numeric value %q", i+2, field)
		}
		emb[i] = float32(v)
	}
	return Identity{Name: name, Embedding: emb}, nil
}
