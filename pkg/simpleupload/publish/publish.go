// Package publish builds public URLs for committed variants.
package publish

import (
	"net/url"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// DefaultCacheSize bounds the number of resolved attribute prefixes.
const DefaultCacheSize = 256

// Publisher maps attribute roots to URL prefixes. Resolved prefixes are kept
// in an LRU cache that is purged whenever the base URL changes.
type Publisher struct {
	mu    sync.RWMutex
	base  string
	cache *lru.Cache[string, string]
}

// New creates a publisher serving files below base, e.g.
// "https://cdn.example.com" or "/files".
func New(base string, size int) (*Publisher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Publisher{base: strings.TrimSuffix(base, "/"), cache: cache}, nil
}

// Base returns the current base URL.
func (p *Publisher) Base() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base
}

// SetBase changes the base URL and drops every cached prefix.
func (p *Publisher) SetBase(base string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = strings.TrimSuffix(base, "/")
	p.cache.Purge()
}

// Prefix returns the URL prefix of attr. An explicit attr.URL wins over the
// base URL joined with attr.Path.
func (p *Publisher) Prefix(attr simpleupload.AttributeConfig) string {
	key := attr.Path + "\x00" + attr.URL

	p.mu.RLock()
	defer p.mu.RUnlock()

	if prefix, ok := p.cache.Get(key); ok {
		return prefix
	}

	var prefix string
	if attr.URL != "" {
		prefix = strings.TrimSuffix(attr.URL, "/")
	} else {
		prefix = p.base
		if root := strings.Trim(attr.Path, "/"); root != "" {
			prefix += "/" + escapePath(root)
		}
	}
	p.cache.Add(key, prefix)
	return prefix
}

// URL returns the public URL of variant of filename.
func (p *Publisher) URL(attr simpleupload.AttributeConfig, variant, filename string) string {
	if filename == "" {
		return ""
	}
	rel := simpleupload.DurablePath("", variant, filename)
	return p.Prefix(attr) + "/" + escapePath(rel)
}

// Len returns the number of cached prefixes.
func (p *Publisher) Len() int {
	return p.cache.Len()
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
