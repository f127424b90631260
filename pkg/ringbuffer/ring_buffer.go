package ringbuffer

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

// RingBuffer keeps the last cap(Storage) added items.
type RingBuffer[T any] struct {
	Storage           []T
	CurrentWriteIndex uint
	Locker            xsync.Mutex
}

func New[T any](size uint) *RingBuffer[T] {
	return &RingBuffer[T]{
		Storage: make([]T, 0, size),
	}
}

func (r *RingBuffer[T]) Add(item T) {
	r.Locker.Do(context.TODO(), func() {
		if cap(r.Storage) == 0 {
			return
		}
		if r.CurrentWriteIndex >= uint(len(r.Storage)) {
			r.Storage = r.Storage[:len(r.Storage)+1]
		}
		r.Storage[r.CurrentWriteIndex] = item
		r.CurrentWriteIndex++
		if r.CurrentWriteIndex >= uint(cap(r.Storage)) {
			r.CurrentWriteIndex = 0
		}
	})
}

func (r *RingBuffer[T]) Len() int {
	return xsync.DoR1(context.TODO(), &r.Locker, func() int {
		return len(r.Storage)
	})
}

// Items returns a copy of the stored items, oldest first.
func (r *RingBuffer[T]) Items() []T {
	return xsync.DoR1(context.TODO(), &r.Locker, func() []T {
		result := make([]T, 0, len(r.Storage))
		if len(r.Storage) == cap(r.Storage) {
			result = append(result, r.Storage[r.CurrentWriteIndex:]...)
			return append(result, r.Storage[:r.CurrentWriteIndex]...)
		}
		return append(result, r.Storage...)
	})
}

func (r *RingBuffer[T]) Reset() {
	r.Locker.Do(context.TODO(), func() {
		r.Storage = r.Storage[:0]
		r.CurrentWriteIndex = 0
	})
}
