// Package ordernumber выдаёт человекочитаемые номера заказов вида ORDYYMMDDNNNN.
package ordernumber

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	// Prefix — постоянная часть номера.
	Prefix = "ORD"

	suffixMin = 1000
	suffixMax = 9999
)

// Generator строит номер из текущей даты и случайного четырёхзначного суффикса.
// Уникальность не гарантируется: коллизии разрешает хранилище.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	rand *rand.Rand
}

// Option настраивает генератор.
type Option func(*Generator)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRand подменяет источник случайности (для тестов).
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.rand = r
		}
	}
}

// New создаёт генератор с системными часами.
func New(opts ...Option) *Generator {
	g := &Generator{
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate возвращает новый номер. Безопасен для конкурентного вызова.
func (g *Generator) Generate() string {
	g.mu.Lock()
	suffix := suffixMin + g.rand.Intn(suffixMax-suffixMin+1)
	now := g.now()
	g.mu.Unlock()

	return fmt.Sprintf("%s%s%04d", Prefix, now.Format("060102"), suffix)
}

// Valid проверяет формат номера.
func Valid(number string) bool {
	if len(number) != len(Prefix)+10 || number[:len(Prefix)] != Prefix {
		return false
	}
	digits := number[len(Prefix):]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	if _, err := time.Parse("060102", digits[:6]); err != nil {
		return false
	}
	return digits[6] != '0'
}
