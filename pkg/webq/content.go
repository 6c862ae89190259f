package webq

import (
	"context"
	"sync/atomic"
)

type contentState uint8

const (
	contentDetached contentState = iota
	contentLoaded
	contentLazy
)

// Content is the binary body of a file. It is either loaded, lazy (bound to an
// open Session and fetched on demand) or detached. The zero value is detached, which
// update operations treat as "no new content supplied".
type Content struct {
	state contentState
	data  []byte
	scope *scope
	fetch func(ctx context.Context) ([]byte, error)
}

// NewContent returns loaded content holding b. A nil slice is stored as empty content.
func NewContent(b []byte) Content {
	if b == nil {
		b = []byte{}
	}
	return Content{state: contentLoaded, data: b}
}

// IsLoaded reports whether the bytes are held in memory.
func (c *Content) IsLoaded() bool {
	return c.state == contentLoaded
}

// Bytes returns the loaded bytes without performing any I/O.
func (c *Content) Bytes() ([]byte, bool) {
	if c.state != contentLoaded {
		return nil, false
	}
	return c.data, true
}

// Load returns the bytes, fetching them through the owning session when the content
// is lazy. It fails with ErrContentNotLoaded once that session is closed.
func (c *Content) Load(ctx context.Context) ([]byte, error) {
	switch c.state {
	case contentLoaded:
		return c.data, nil
	case contentLazy:
		if c.scope == nil || c.scope.isClosed() {
			return nil, ErrContentNotLoaded
		}
		data, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.state = contentLoaded
		c.data = data
		c.scope = nil
		c.fetch = nil
		return data, nil
	default:
		return nil, ErrContentNotLoaded
	}
}

func lazyContent(s *scope, fetch func(ctx context.Context) ([]byte, error)) Content {
	return Content{state: contentLazy, scope: s, fetch: fetch}
}

// scope is the lifetime of lazily loadable records.
type scope struct {
	closed atomic.Bool
}

func newScope() *scope {
	return &scope{}
}

func closedScope() *scope {
	s := &scope{}
	s.closed.Store(true)
	return s
}

func (s *scope) close() {
	s.closed.Store(true)
}

func (s *scope) isClosed() bool {
	return s.closed.Load()
}
