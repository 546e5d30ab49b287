package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"ragdocs/backend/internal/answer"
	"ragdocs/backend/internal/retrieval"
)

// ErrBusy rejects a turn for a conversation that already has one in flight.
// Concurrent turns would interleave the ordered history, so the caller should
// retry once the current turn completes.
var ErrBusy = errors.New("conversation busy")

type Retriever interface {
	Search(ctx context.Context, query string, f retrieval.Filters, topK int) ([]retrieval.Result, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, query string, history []answer.Turn, retrieved []retrieval.Result) (string, []answer.Source, error)
}

// TurnResult is the response contract for one handled turn.
type TurnResult struct {
	ConversationID string          `json:"conversation_id"`
	Answer         string          `json:"answer"`
	Sources        []answer.Source `json:"sources"`
}

type Service struct {
	repo        Repository
	retriever   Retriever
	synthesizer Synthesizer
	topK        int

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewService(repo Repository, r Retriever, s Synthesizer, topK int) *Service {
	if topK < 1 {
		topK = 6
	}
	return &Service{
		repo:        repo,
		retriever:   r,
		synthesizer: s,
		topK:        topK,
		inFlight:    map[string]bool{},
	}
}

// HandleTurn drives one conversation turn: resolve or create the
// conversation, retrieve, synthesize, then append both turns. Nothing is
// appended when retrieval, synthesis, or the caller's context fails; a
// cancelled turn leaves the conversation exactly as it was.
func (s *Service) HandleTurn(ctx context.Context, convID, userText string, f retrieval.Filters) (*TurnResult, error) {
	conv, err := s.resolve(ctx, convID, userText)
	if err != nil {
		return nil, err
	}

	if !s.acquire(conv.ID) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, conv.ID)
	}
	defer s.release(conv.ID)

	retrieved, err := s.retriever.Search(ctx, userText, f, s.topK)
	if err != nil {
		return nil, err
	}

	answerText, sources, err := s.synthesizer.Synthesize(ctx, userText, conv.History(), retrieved)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		// Caller went away mid-synthesis: do not mutate the history.
		return nil, err
	}

	user := Message{ID: uuid.New().String(), Role: RoleUser, Content: userText}
	assistant := Message{ID: uuid.New().String(), Role: RoleAssistant, Content: answerText, Sources: sources}
	if err := s.repo.AppendTurn(ctx, conv.ID, user, assistant); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}

	if sources == nil {
		sources = []answer.Source{}
	}
	return &TurnResult{ConversationID: conv.ID, Answer: answerText, Sources: sources}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) resolve(ctx context.Context, convID, firstMessage string) (*Conversation, error) {
	if convID != "" {
		return s.repo.Get(ctx, convID)
	}

	conv := &Conversation{
		ID:    uuid.New().String(),
		Title: titleFrom(firstMessage),
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
