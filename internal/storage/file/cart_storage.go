// Package file хранит снимок корзины в каталоге на диске: по JSON-файлу на ключ.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Steank-29/tawakkol/internal/domain"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// CartStorage пишет снимки атомарно: во временный файл и rename.
type CartStorage struct {
	dir string
}

// NewCartStorage создаёт каталог, если его нет.
func NewCartStorage(dir string) (*CartStorage, error) {
	if dir == "" {
		return nil, errors.New("cart storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cart storage dir: %w", err)
	}
	return &CartStorage{dir: dir}, nil
}

func (s *CartStorage) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid cart key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *CartStorage) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrCartSnapshotNotFound
		}
		return nil, fmt.Errorf("read cart snapshot: %w", err)
	}
	return data, nil
}

func (s *CartStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cart snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cart snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cart snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace cart snapshot: %w", err)
	}
	return nil
}

func (s *CartStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cart snapshot: %w", err)
	}
	return nil
}

var _ domain.CartSnapshotStorage = (*CartStorage)(nil)
