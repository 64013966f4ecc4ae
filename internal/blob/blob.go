// Package blob stores uploaded task images as plain files in one directory.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// MaxSize is the largest accepted upload.
const MaxSize = 5 << 20

// URLPrefix is where stored blobs are served from.
const URLPrefix = "/uploads/"

var (
	ErrTooLarge = errors.New("file too large")
	ErrNotImage = errors.New("only image files are allowed")
	ErrNotFound = errors.New("image not found")
)

type Store struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

// Put writes r under a timestamped copy of originalName and returns the
// stored name. contentType is the client's declared type; when it is missing
// or generic the content is sniffed instead.
func (s *Store) Put(ctx context.Context, originalName, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxSize {
		return "", fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.Bytes(MaxSize))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w: got %s", ErrNotImage, mediaType)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s", s.now().UnixMilli(), cleanName(originalName))
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}

	s.logger.Info("stored upload", zap.String("name", name), zap.String("size", humanize.Bytes(uint64(len(data)))))
	return name, nil
}

// Open returns the stored file; the caller closes it.
func (s *Store) Open(name string) (*os.File, error) {
	full, err := s.path(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return file, err
}

// Remove deletes the stored file. A missing file is not an error.
func (s *Store) Remove(name string) error {
	full, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return filepath.Join(s.dir, name), nil
}

// URL is the public address of a stored blob.
func URL(name string) string {
	return URLPrefix + name
}

// NameFromURL extracts the stored name from an image URL; ok is false when
// the URL does not point at this store.
func NameFromURL(imageURL string) (string, bool) {
	if !strings.HasPrefix(imageURL, URLPrefix) {
		return "", false
	}
	name := path.Base(imageURL)
	if name == "" || name == "." || name == "/" {
		return "", false
	}
	return name, true
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20, r == '/', r == ':':
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "image"
	}
	return name
}
