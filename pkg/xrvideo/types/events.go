package types

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

type EventBus interface {
	Publish(topic string, args ...any)
}

type Event interface{}

// EventTopic returns the topic events of the given type are published on.
func EventTopic(event Event) string {
	t := reflect.ValueOf(event).Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

type EventLoadStarted struct {
	SessionID uuid.UUID
	Size      int
}

type EventLoadDeferred struct {
	Size int
}

type EventLoadStateChanged struct {
	SessionID uuid.UUID
	State     AsyncLoadState
	Error     error
}

type EventBufferingStarted struct {
	SessionID uuid.UUID
	Timestamp time.Duration
}

type EventBufferingFinished struct {
	SessionID uuid.UUID
	Timestamp time.Duration
	Duration  time.Duration
}

type EventPlaybackEnded struct {
	SessionID uuid.UUID
}

type EventSessionReleased struct {
	SessionID uuid.UUID
}
