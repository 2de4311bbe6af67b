package chat

import (
	"sync"

	"ariachat/internal/domain"
	"ariachat/internal/metrics"
)

// turnSink receives one turn's stream. Artifacts and the finished events of
// the artifact tool arrive on separate callbacks in no guaranteed order, so
// they are paired here: a finished event claims the oldest unclaimed artifact
// or waits for the next one.
type turnSink struct {
	o         *Orchestrator
	sessionID string

	mu       sync.Mutex
	queued   []domain.Artifact
	deferred []domain.FinishedEvent
	stopped  bool
}

func newTurnSink(o *Orchestrator, sessionID string) *turnSink {
	return &turnSink{o: o, sessionID: sessionID}
}

// OnProgress implements domain.ChatSink. The first rejected event stops the
// turn: everything delivered after it is discarded, valid or not.
func (s *turnSink) OnProgress(ev domain.ProgressEvent) error {
	if s.Stopped() {
		return ErrSessionTerminated
	}
	fin, ok := ev.(domain.FinishedEvent)
	if !ok || fin.Artifact != nil || !s.o.guard.Valid(ev) {
		return s.applyOrStop(ev)
	}
	if tool, isOpen := s.o.openTool(fin.QueryID, fin.Name); !isOpen || !s.o.reducer.IsArtifactTool(tool) {
		return s.applyOrStop(ev)
	}

	s.mu.Lock()
	if s.isDeferred(fin.QueryID) {
		s.mu.Unlock()
		return nil
	}
	if len(s.queued) == 0 {
		s.deferred = append(s.deferred, fin)
		s.mu.Unlock()
		s.o.logger.Debug("finished event waiting for artifact", "query_id", fin.QueryID)
		return nil
	}
	a := s.queued[0]
	s.queued = s.queued[1:]
	s.mu.Unlock()

	fin.Artifact = &a
	return s.applyOrStop(fin)
}

func (s *turnSink) applyOrStop(ev domain.ProgressEvent) error {
	err := s.o.apply(ev)
	if err != nil {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}
	return err
}

// Stopped reports whether the turn was terminated by a rejected event.
func (s *turnSink) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// OnArtifact implements domain.ChatSink.
func (s *turnSink) OnArtifact(a domain.Artifact) {
	if s.Stopped() || !s.o.guard.Accepts(s.sessionID) {
		metrics.EventsDropped.Inc()
		s.o.logger.Debug("artifact rejected", "session", s.sessionID, "url", a.URL)
		return
	}
	metrics.ArtifactsReceived.Inc()

	s.mu.Lock()
	if len(s.deferred) == 0 {
		s.queued = append(s.queued, a)
		s.mu.Unlock()
		return
	}
	fin := s.deferred[0]
	s.deferred = s.deferred[1:]
	s.mu.Unlock()

	fin.Artifact = &a
	if err := s.applyOrStop(fin); err != nil {
		s.o.logger.Debug("deferred finished event rejected", "query_id", fin.QueryID, "err", err)
	}
}

// isDeferred must be called with s.mu held.
func (s *turnSink) isDeferred(queryID string) bool {
	for _, d := range s.deferred {
		if d.QueryID == queryID {
			return true
		}
	}
	return false
}

// flush settles whatever is still unpaired when the stream ends: waiting
// finished events complete without an artifact and unclaimed artifacts are
// appended in arrival order. Nothing is applied once the turn was stopped.
func (s *turnSink) flush() {
	s.mu.Lock()
	deferred, queued, stopped := s.deferred, s.queued, s.stopped
	s.deferred, s.queued = nil, nil
	s.mu.Unlock()

	if stopped || !s.o.guard.Accepts(s.sessionID) {
		return
	}
	for _, fin := range deferred {
		s.o.logger.Warn("artifact never arrived", "query_id", fin.QueryID)
		if err := s.o.apply(fin); err != nil {
			return
		}
	}
	for _, a := range queued {
		s.o.appendArtifact(s.sessionID, a)
	}
}
