package memory

import (
	"context"
	"sync"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// CartStorage хранит снимки корзин в памяти процесса (для тестов и локальной разработки).
type CartStorage struct {
	mu    sync.RWMutex
	items map[string][]byte

	// FailSave заставляет Save возвращать ошибку (для тестов).
	FailSave error
}

// NewCartStorage создаёт пустое хранилище.
func NewCartStorage() *CartStorage {
	return &CartStorage{items: make(map[string][]byte)}
}

// Load возвращает копию сохранённых байт.
func (s *CartStorage) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.items[key]
	if !ok {
		return nil, domain.ErrCartSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *CartStorage) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSave != nil {
		return s.FailSave
	}
	s.items[key] = append([]byte(nil), data...)
	return nil
}

func (s *CartStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// Put кладёт сырые байты, минуя проверки (для тестов с повреждённым снимком).
func (s *CartStorage) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]byte(nil), data...)
}

var _ domain.CartSnapshotStorage = (*CartStorage)(nil)
