// Package cart хранит корзину одной сессии покупателя.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/pricing"
)

// DefaultKey — ключ снимка корзины в хранилище.
const DefaultKey = "cart"

// Snapshot — неизменяемая копия строк и итогов на один момент времени.
type Snapshot struct {
	Lines  []domain.CartLine `json:"lines"`
	Totals pricing.Totals    `json:"totals"`
}

// Empty сообщает, что в снимке нет строк.
func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// ItemCount возвращает количество единиц товара в снимке.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// OrderLines переводит строки корзины в строки заказа.
func (s Snapshot) OrderLines() []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(s.Lines))
	for _, l := range s.Lines {
		out = append(out, domain.OrderLineFromCart(l))
	}
	return out
}

// Option настраивает Store.
type Option func(*Store)

// WithKey задаёт ключ снимка (например, по идентификатору сессии).
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store — корзина одной сессии. Строки идут в порядке первого добавления.
type Store struct {
	mu      sync.Mutex
	storage domain.CartSnapshotStorage
	policy  pricing.Policy
	key     string
	logger  *log.Entry
	lines   []domain.CartLine
}

// New создаёт корзину и поднимает сохранённый снимок. Отсутствующий или повреждённый
// снимок превращается в пустую корзину.
func New(ctx context.Context, storage domain.CartSnapshotStorage, policy pricing.Policy, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		policy:  policy,
		key:     DefaultKey,
		logger:  log.WithField("component", "cart"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lines = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) []domain.CartLine {
	if s.storage == nil {
		return nil
	}

	data, err := s.storage.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, domain.ErrCartSnapshotNotFound) {
			s.logger.WithError(err).WithField("key", s.key).Warn("cart snapshot is unreadable, starting with empty cart")
		}
		return nil
	}

	var lines []domain.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		s.logger.WithError(err).WithField("key", s.key).Warn("cart snapshot is malformed, starting with empty cart")
		return nil
	}

	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			s.logger.WithError(err).WithField("key", s.key).Warn("cart snapshot contains invalid line, starting with empty cart")
			return nil
		}
		if _, dup := seen[line.VariantKey]; dup {
			s.logger.WithField("variant_key", line.VariantKey).Warn("cart snapshot contains duplicate line, starting with empty cart")
			return nil
		}
		seen[line.VariantKey] = struct{}{}
	}

	return lines
}

// AddItem добавляет товар. Повторное добавление той же вариации увеличивает количество.
// quantity == 0 трактуется как 1.
func (s *Store) AddItem(ctx context.Context, product domain.Product, quantity int, size, color string) error {
	if err := product.Validate(); err != nil {
		return err
	}
	if quantity < 0 {
		return domain.NewValidationError("quantity", "must be positive")
	}
	if quantity == 0 {
		quantity = 1
	}

	key := domain.VariantKey(product.ID, size, color)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(key); i >= 0 {
		s.lines[i].Quantity += quantity
	} else {
		s.lines = append(s.lines, domain.CartLine{
			ProductID:  product.ID,
			Name:       product.Name,
			UnitPrice:  product.Price,
			Quantity:   quantity,
			Size:       size,
			Color:      color,
			ImageRef:   product.ImageRef,
			VariantKey: key,
		})
	}

	return s.persistLocked(ctx)
}

// RemoveItem удаляет строку; отсутствие строки ошибкой не считается.
func (s *Store) RemoveItem(ctx context.Context, productID, size, color string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(domain.VariantKey(productID, size, color))
	if i < 0 {
		return nil
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	return s.persistLocked(ctx)
}

// SetQuantity задаёт количество строки. quantity <= 0 удаляет строку.
func (s *Store) SetQuantity(ctx context.Context, productID string, quantity int, size, color string) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, productID, size, color)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(domain.VariantKey(productID, size, color))
	if i < 0 {
		return nil
	}
	s.lines[i].Quantity = max(1, quantity)
	return s.persistLocked(ctx)
}

// Clear очищает корзину и удаляет сохранённый снимок.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrCartPersist, err)
	}
	return nil
}

// Snapshot возвращает копию строк и итоги, посчитанные по этой копии.
func (s *Store) Snapshot() Snapshot {
	lines := s.Lines()
	return Snapshot{
		Lines:  lines,
		Totals: pricing.ComputeTotals(lines, s.policy),
	}
}

// Lines возвращает копию строк.
func (s *Store) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// ItemCount возвращает количество единиц товара.
func (s *Store) ItemCount() int {
	return s.Snapshot().ItemCount()
}

// Totals пересчитывает итоги при каждом вызове.
func (s *Store) Totals() pricing.Totals {
	return s.Snapshot().Totals
}

// Policy возвращает действующую ценовую политику.
func (s *Store) Policy() pricing.Policy {
	return s.policy
}

func (s *Store) indexOf(key string) int {
	for i, line := range s.lines {
		if line.VariantKey == key {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	lines := s.lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", domain.ErrCartPersist, err)
	}
	if err := s.storage.Save(ctx, s.key, data); err != nil {
		s.logger.WithError(err).WithField("key", s.key).Warn("failed to persist cart snapshot")
		return fmt.Errorf("%w: %v", domain.ErrCartPersist, err)
	}
	return nil
}
