// Package upload stores files submitted for analysis and hands out the
// per-upload data directory the engine extracts into.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fiscalyze/backend/internal/config"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotFound        = errors.New("file not found")
)

// File describes one stored upload.
type File struct {
	ID   string `json:"file_id"`
	Name string `json:"filename"`
	Path string `json:"-"`
	Size int64  `json:"size"`
}

type Store struct {
	dir  string
	exts map[string]bool
	log  *slog.Logger
}

func NewStore(cfg config.UploadsConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	exts := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		exts[strings.ToLower(e)] = true
	}

	return &Store{dir: cfg.Dir, exts: exts, log: log}, nil
}

// Save writes the uploaded content under a fresh id. The id embeds the
// submission time plus a short random suffix so two uploads of the same
// filename in the same second stay distinct.
func (s *Store) Save(filename string, r io.Reader) (*File, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.exts[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	base := filepath.Base(filename)
	id := fmt.Sprintf("%s_%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8], base)
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write upload: %w", err)
	}

	s.log.Info("file stored", "file_id", id, "bytes", size)
	return &File{ID: id, Name: base, Path: path, Size: size}, nil
}

// Path resolves a file id to its location on disk, rejecting ids that try
// to escape the upload directory.
func (s *Store) Path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, id)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// DataDir creates (if needed) and returns the extraction directory for one
// upload. Each upload gets its own so concurrent analyses never collide.
func (s *Store) DataDir(id string) (string, error) {
	if _, err := s.Path(id); err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, "data", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}
