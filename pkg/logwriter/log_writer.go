// Package logwriter turns line-oriented output of third-party code into
// log entries.
package logwriter

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/xsync"
	"github.com/xaionaro-go/xrvideo/pkg/observability"
)

// FlushInterval is how long an unterminated line may stay in the buffer.
var FlushInterval = time.Second

type LogWriter struct {
	Logger       logger.Logger
	Level        logger.Level
	Buffer       bytes.Buffer
	BufferLocker xsync.Mutex
}

var _ io.Writer = (*LogWriter)(nil)

// New returns a writer that logs every written line at the given level.
// Incomplete lines are flushed every FlushInterval and when ctx is done.
func New(
	ctx context.Context,
	level logger.Level,
) *LogWriter {
	l := &LogWriter{
		Logger: logger.FromCtx(ctx),
		Level:  level,
	}
	observability.GoSafe(ctx, l.flusher)
	return l
}

func (l *LogWriter) flusher(ctx context.Context) {
	t := time.NewTicker(FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Flush()
			return
		case <-t.C:
		}
		l.Flush()
	}
}

// Flush logs whatever is buffered, including an unterminated line.
func (l *LogWriter) Flush() {
	ctx := xsync.WithNoLogging(context.TODO(), true)
	s := xsync.DoR1(ctx, &l.BufferLocker, func() string {
		s := l.Buffer.String()
		l.Buffer.Reset()
		return s
	})
	l.log(s)
}

func (l *LogWriter) Write(b []byte) (int, error) {
	ctx := xsync.WithNoLogging(context.TODO(), true)
	lines := xsync.DoR1(ctx, &l.BufferLocker, func() []string {
		l.Buffer.Write(b)
		var lines []string
		for {
			idx := bytes.IndexByte(l.Buffer.Bytes(), '\n')
			if idx < 0 {
				return lines
			}
			lines = append(lines, string(l.Buffer.Next(idx+1)))
		}
	})
	for _, line := range lines {
		l.log(line)
	}
	return len(b), nil
}

func (l *LogWriter) log(s string) {
	s = string(bytes.Trim([]byte(s), " \n\t\r"))
	if len(s) == 0 {
		return
	}
	l.Logger.Logf(l.Level, "%s", s)
}
