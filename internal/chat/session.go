package chat

import (
	"sync"
	"time"

	"github.com/kalambet/finrag/internal/pipeline"
)

// Turn is one answered question.
type Turn struct {
	Question string
	Result   pipeline.AnswerResult
	Elapsed  time.Duration
}

// Session is the state of one interactive shell. It belongs to the shell;
// the orchestrator it calls keeps nothing between questions. A session
// answers one question at a time: while Busy, further questions are refused.
type Session struct {
	History []Turn

	mu   sync.Mutex
	busy bool
}

// Busy reports whether a question is being answered.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// begin claims the session and reports false if it is already answering.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) end(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.History = append(s.History, t)
}
