package commands

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/eventbus"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
)

type eventBus interface {
	types.EventBus
	SubscribeAsync(topic string, fn any, transactional bool) error
	Unsubscribe(topic string, handler any) error
	WaitAsync()
}

func newEventBus() eventBus {
	return eventbus.New()
}

type eventStats struct {
	BufferingEpisodes int
	PlaybacksEnded    int
	SessionsReleased  int
}

func subscribe[T types.Event](
	ctx context.Context,
	bus eventBus,
	callback func(T),
) {
	var sample T
	topic := types.EventTopic(sample)
	if err := bus.SubscribeAsync(topic, callback, true); err != nil {
		logger.Errorf(ctx, "unable to subscribe to '%s': %v", topic, err)
		return
	}
	observability.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		bus.Unsubscribe(topic, callback)
	})
}

// logEvents logs the engine events until ctx is done. The stats are only
// updated by the bus, one event at a time per topic; read them after
// bus.WaitAsync.
func logEvents(
	ctx context.Context,
	bus eventBus,
) *eventStats {
	stats := &eventStats{}
	subscribe(ctx, bus, func(ev types.EventLoadStarted) {
		logger.Infof(ctx, "loading session %s", ev.SessionID)
	})
	subscribe(ctx, bus, func(ev types.EventLoadDeferred) {
		logger.Debugf(ctx, "the load is deferred until the previous video is replaced")
	})
	subscribe(ctx, bus, func(ev types.EventLoadStateChanged) {
		if ev.Error != nil {
			logger.Errorf(ctx, "session %s: %s: %v", ev.SessionID, ev.State, ev.Error)
			return
		}
		logger.Infof(ctx, "session %s: %s", ev.SessionID, ev.State)
	})
	subscribe(ctx, bus, func(ev types.EventBufferingStarted) {
		stats.BufferingEpisodes++
		logger.Infof(ctx, "session %s: buffering at %v", ev.SessionID, ev.Timestamp)
	})
	subscribe(ctx, bus, func(ev types.EventBufferingFinished) {
		logger.Infof(ctx, "session %s: buffered at %v in %v", ev.SessionID, ev.Timestamp, ev.Duration)
	})
	subscribe(ctx, bus, func(ev types.EventPlaybackEnded) {
		stats.PlaybacksEnded++
		logger.Infof(ctx, "session %s: the playback ended", ev.SessionID)
	})
	subscribe(ctx, bus, func(ev types.EventSessionReleased) {
		stats.SessionsReleased++
		logger.Debugf(ctx, "session %s: released", ev.SessionID)
	})
	return stats
}
