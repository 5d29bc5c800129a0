// Package memory layers the four recall systems the agent draws on: the
// in-process short-term buffer, the SQLite-backed long-term store, the
// vector-backed semantic index, and the episodic event timeline. The agent
// talks to Manager, never to the tiers directly.
package memory

import (
	"sync"

	"psycho/internal/llm"
)

// Turn is one user/assistant exchange.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ShortTerm is a fixed-size ring of recent turns. It lives only for the
// process lifetime and forms the immediate context window for the model.
type ShortTerm struct {
	mu       sync.Mutex
	maxTurns int
	turns    []Turn
}

// NewShortTerm returns a buffer holding at most maxTurns exchanges.
func NewShortTerm(maxTurns int) *ShortTerm {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &ShortTerm{maxTurns: maxTurns}
}

// Add appends a turn, evicting the oldest once the buffer is full.
func (s *ShortTerm) Add(userMessage, assistantResponse string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{User: userMessage, Assistant: assistantResponse})
	if len(s.turns) > s.maxTurns {
		s.turns = s.turns[len(s.turns)-s.maxTurns:]
	}
}

// Messages flattens the buffer into an alternating user/assistant list.
func (s *ShortTerm) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]llm.Message, 0, len(s.turns)*2)
	for _, turn := range s.turns {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.User},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Assistant},
		)
	}
	return messages
}

// Turns returns a copy of the buffered exchanges.
func (s *ShortTerm) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Clear empties the buffer.
func (s *ShortTerm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Len reports the number of buffered turns.
func (s *ShortTerm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}
