package xrvplayer

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/xsync"
)

// handleTable maps opaque handles to the objects they refer to. Zero is
// never a valid handle.
type handleTable[H ~uint64, T any] struct {
	locker xsync.Mutex
	items  map[H]T
	next   H
}

func newHandleTable[H ~uint64, T any]() *handleTable[H, T] {
	return &handleTable[H, T]{
		items: map[H]T{},
		next:  1,
	}
}

func (t *handleTable[H, T]) register(ctx context.Context, item T) H {
	return xsync.DoR1(ctx, &t.locker, func() H {
		h := t.next
		t.next++
		t.items[h] = item
		return h
	})
}

func (t *handleTable[H, T]) lookup(ctx context.Context, h H) (T, error) {
	return xsync.DoR2(ctx, &t.locker, func() (T, error) {
		item, ok := t.items[h]
		if !ok {
			return item, fmt.Errorf("%w: %T(%d)", ErrInvalidHandle, h, uint64(h))
		}
		return item, nil
	})
}

// unregister removes the handle and returns what it referred to.
func (t *handleTable[H, T]) unregister(ctx context.Context, h H) (T, error) {
	return xsync.DoR2(ctx, &t.locker, func() (T, error) {
		item, ok := t.items[h]
		if !ok {
			return item, fmt.Errorf("%w: %T(%d)", ErrInvalidHandle, h, uint64(h))
		}
		delete(t.items, h)
		return item, nil
	})
}

// unregisterIf removes every handle whose item matches.
func (t *handleTable[H, T]) unregisterIf(ctx context.Context, match func(T) bool) []T {
	return xsync.DoR1(ctx, &t.locker, func() []T {
		var removed []T
		for h, item := range t.items {
			if match(item) {
				removed = append(removed, item)
				delete(t.items, h)
			}
		}
		return removed
	})
}

func (t *handleTable[H, T]) count(ctx context.Context) int {
	return xsync.DoR1(ctx, &t.locker, func() int {
		return len(t.items)
	})
}
