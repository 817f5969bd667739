// Package catalog отдаёт товары витрины из статического JSON-файла.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// ErrProductNotFound — товара с таким идентификатором нет в каталоге.
var ErrProductNotFound = errors.New("product not found")

//go:embed default_catalog.json
var defaultCatalog []byte

// Catalog — источник товаров для корзины.
type Catalog interface {
	Product(ctx context.Context, id string) (domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

// Static — каталог в памяти. Порядок List совпадает с порядком в файле.
type Static struct {
	order    []string
	products map[string]domain.Product
}

// NewStatic проверяет товары и строит каталог. Повтор идентификатора считается ошибкой.
func NewStatic(products []domain.Product) (*Static, error) {
	c := &Static{products: make(map[string]domain.Product, len(products))}
	for i, p := range products {
		p.ID = strings.TrimSpace(p.ID)
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("product #%d: %w", i, err)
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("product #%d: duplicate id %q", i, p.ID)
		}
		c.products[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Parse читает JSON-массив товаров.
func Parse(data []byte) (*Static, error) {
	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewStatic(products)
}

// Load читает каталог из файла. Пустой путь означает встроенный демонстрационный каталог.
func Load(path string) (*Static, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Product возвращает товар по идентификатору.
func (c *Static) Product(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	p, ok := c.products[strings.TrimSpace(id)]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

// List возвращает все товары.
func (c *Static) List(ctx context.Context) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out, nil
}

// IDs возвращает идентификаторы в алфавитном порядке.
func (c *Static) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}
