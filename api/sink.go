package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/woozar/prophecy-sub003/broker"
)

// streamSink writes frames to one open event-stream response. Writes come from
// broker goroutines while the handler waits; once closed the sink refuses
// writes so nothing touches the response after the handler returns.
type streamSink struct {
	w            http.ResponseWriter
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func newStreamSink(w http.ResponseWriter, flusher http.Flusher, writeTimeout time.Duration) *streamSink {
	return &streamSink{
		w:            w,
		flusher:      flusher,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *streamSink) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broker.ErrSinkClosed
	}
	if s.writeTimeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		defer s.rc.SetWriteDeadline(time.Time{})
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close waits for an in-flight write and marks the sink closed.
func (s *streamSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Done is closed when the broker drops the sink.
func (s *streamSink) Done() <-chan struct{} {
	return s.done
}
