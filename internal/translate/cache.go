package translate

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey struct {
	text   string
	source string
	target string
}

// Purger is implemented by translators that hold cached results.
type Purger interface {
	Purge()
}

// Cache memoizes successful translations. Failures are never cached.
type Cache struct {
	next    Translator
	entries *lru.Cache[cacheKey, Result]
}

func NewCache(next Translator, size int) (*Cache, error) {
	entries, err := lru.New[cacheKey, Result](size)
	if err != nil {
		return nil, fmt.Errorf("create translation cache: %w", err)
	}
	return &Cache{next: next, entries: entries}, nil
}

func (c *Cache) Translate(ctx context.Context, req Request) (Result, error) {
	key := cacheKey{text: req.Text, source: baseLanguage(req.Source), target: req.Target}
	if res, ok := c.entries.Get(key); ok {
		return res, nil
	}
	res, err := c.next.Translate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	c.entries.Add(key, res)
	return res, nil
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached translation.
func (c *Cache) Purge() {
	c.entries.Purge()
}
