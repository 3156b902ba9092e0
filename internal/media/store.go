// Package media stores uploaded images in a scratch directory until a batch
// has been sent, then removes them.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/session"
)

var (
	ErrTooLarge   = errors.New("media: file too large")
	ErrType       = errors.New("media: file type not allowed")
	ErrTooMany    = errors.New("media: too many files")
	ErrOutsideDir = errors.New("media: path outside upload directory")
)

// Upload is one incoming file.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Store keeps uploads under a single directory.
type Store struct {
	dir      string
	maxBytes int64
	maxFiles int
	allowed  map[string]bool // lower-case extensions without the dot
	log      zerolog.Logger
}

// NewStore creates the upload directory if needed.
func NewStore(cfg config.MediaConfig, log zerolog.Logger) (*Store, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("media: resolve dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create dir: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimPrefix(t, "."))] = true
	}
	return &Store{
		dir:      dir,
		maxBytes: cfg.MaxBytes(),
		maxFiles: cfg.MaxFiles,
		allowed:  allowed,
		log:      logging.Component(log, "media"),
	}, nil
}

// Dir returns the absolute upload directory.
func (s *Store) Dir() string { return s.dir }

// SaveAll stores every upload and returns their paths. On any failure the
// files already written are removed and nothing is kept.
func (s *Store) SaveAll(uploads []Upload) ([]string, error) {
	if s.maxFiles > 0 && len(uploads) > s.maxFiles {
		return nil, fmt.Errorf("%w: %d files, limit is %d", ErrTooMany, len(uploads), s.maxFiles)
	}
	paths := make([]string, 0, len(uploads))
	for _, u := range uploads {
		rc, err := u.Open()
		if err != nil {
			s.Remove(paths)
			return nil, fmt.Errorf("media: open %s: %w", u.Name, err)
		}
		p, err := s.Save(u.Name, rc)
		rc.Close()
		if err != nil {
			s.Remove(paths)
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Save validates and writes a single file. Both the extension and the sniffed
// content type must be on the allow list.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !s.allowed[ext] {
		return "", fmt.Errorf("%w: %q", ErrType, name)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("media: read %s: %w", name, err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, name, humanize.IBytes(uint64(s.maxBytes)))
	}
	mt := mimetype.Detect(data)
	if !s.allowedMIME(mt) {
		return "", fmt.Errorf("%w: %q looks like %s", ErrType, name, mt.String())
	}

	path := filepath.Join(s.dir, uuid.NewString()+"-"+sanitize(filepath.Base(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}
	s.log.Debug().Str("path", path).Str("size", humanize.IBytes(uint64(len(data)))).Msg("stored upload")
	return path, nil
}

func (s *Store) allowedMIME(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		ext := strings.TrimPrefix(m.Extension(), ".")
		if s.allowed[ext] {
			return true
		}
		if m.Is("image/jpeg") && (s.allowed["jpg"] || s.allowed["jpeg"]) {
			return true
		}
	}
	return false
}

// Resolve checks that path names a file inside the upload directory and
// returns its absolute form.
func (s *Store) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	abs := filepath.Clean(path)
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideDir, path)
	}
	return abs, nil
}

// Load reads a stored file as a session.Media.
func (s *Store) Load(path string) (session.Media, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return session.Media{}, err
	}
	return LoadFile(abs)
}

// LoadFile reads any file from disk as a session.Media.
func LoadFile(path string) (session.Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Media{}, fmt.Errorf("media: read %s: %w", path, err)
	}
	return session.Media{
		Path:     path,
		Filename: displayName(filepath.Base(path)),
		MimeType: mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}

// Remove deletes paths on a best-effort basis; failures are logged only.
func (s *Store) Remove(paths []string) {
	for _, p := range paths {
		abs, err := s.Resolve(p)
		if err != nil {
			s.log.Warn().Err(err).Msg("refusing to remove file")
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", abs).Msg("could not remove upload")
		}
	}
}

// sanitize keeps a filename to a safe character set.
func sanitize(name string) string {
	var b bytes.Buffer
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// displayName strips the uuid prefix added by Save.
func displayName(base string) string {
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}
