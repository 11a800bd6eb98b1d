package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func providerList(ps ...interfaces.Provider) []interfaces.Provider { return ps }

// embedVocab maps keyword groups to vector dimensions so cosine similarity
// between test texts is predictable: texts sharing keywords score high,
// unrelated texts score near zero (the trailing bias keeps vectors nonzero).
var embedVocab = [][]string{
	{"platinum"},
	{"mining", "extraction", "harvesting"},
	{"profit", "earnings", "credits", "revenue"},
	{"kepler"},
	{"alliance", "coalition", "pact"},
	{"trade", "commerce", "exchange"},
	{"defense", "protection", "fortification"},
	{"diplomacy", "negotiation"},
	{"exploration", "scouting", "surveying"},
}

func keywordEmbed(text string) []float64 {
	lower := strings.ToLower(text)
	vec := make([]float64, len(embedVocab)+1)
	for i, aliases := range embedVocab {
		for _, alias := range aliases {
			vec[i] += float64(strings.Count(lower, alias))
		}
	}
	vec[len(embedVocab)] = 0.1
	return vec
}

// fakeProvider is a deterministic in-process Provider.
type fakeProvider struct {
	mu sync.Mutex

	name          string
	model         string
	embedModel    string
	supportsEmbed bool
	embedFn       func(text string) ([]float64, error)
	completeFn    func(messages []interfaces.ChatMessage) (*interfaces.Completion, error)
	failBatch     bool
	embedCalls    int
	batchCalls    int
	completeCalls int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:          name,
		model:         name + "-chat",
		embedModel:    name + "-embed",
		supportsEmbed: true,
		embedFn: func(text string) ([]float64, error) {
			return keywordEmbed(text), nil
		},
	}
}

func (p *fakeProvider) Name() string            { return p.name }
func (p *fakeProvider) Model() string           { return p.model }
func (p *fakeProvider) EmbeddingModel() string  { return p.embedModel }
func (p *fakeProvider) SupportsEmbedding() bool { return p.supportsEmbed }

func (p *fakeProvider) Available(ctx context.Context) bool { return true }

func (p *fakeProvider) Complete(ctx context.Context, messages []interfaces.ChatMessage, opts *interfaces.CompletionOptions) (*interfaces.Completion, error) {
	p.mu.Lock()
	p.completeCalls++
	fn := p.completeFn
	p.mu.Unlock()

	if fn != nil {
		return fn(messages)
	}
	return &interfaces.Completion{Text: "ok"}, nil
}

func (p *fakeProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.mu.Lock()
	p.embedCalls++
	fn := p.embedFn
	p.mu.Unlock()
	return fn(text)
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	p.mu.Lock()
	p.batchCalls++
	fail := p.failBatch
	fn := p.embedFn
	p.mu.Unlock()

	if fail {
		return nil, errors.New("batch endpoint down")
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := fn(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *fakeProvider) calls() (embed, batch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls, p.batchCalls
}

// fakeConversationStore is an in-memory ConversationStore.
type fakeConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*interfaces.Conversation
	messages      map[string]*interfaces.Message
	addCalls      int
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		conversations: make(map[string]*interfaces.Conversation),
		messages:      make(map[string]*interfaces.Message),
	}
}

func (s *fakeConversationStore) CreateConversation(ctx context.Context, conv *interfaces.Conversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	clone := *conv
	clone.StartedAt = time.Now()
	s.conversations[conv.ID] = &clone
	return conv.ID, nil
}

func (s *fakeConversationStore) GetConversation(ctx context.Context, id string) (*interfaces.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	clone := *conv
	return &clone, nil
}

func (s *fakeConversationStore) AddMessage(ctx context.Context, msg *interfaces.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := s.messages[msg.ID]; exists {
		return msg.ID, nil
	}
	clone := *msg
	s.messages[msg.ID] = &clone
	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.MessageCount++
		conv.LastMessageAt = time.Now()
	}
	return msg.ID, nil
}

func (s *fakeConversationStore) LinkVector(ctx context.Context, messageID, vectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	msg.VectorID = vectorID
	return nil
}

func (s *fakeConversationStore) GetMessages(ctx context.Context, q *interfaces.MessageQuery) ([]*interfaces.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*interfaces.Message, 0)
	for _, msg := range s.messages {
		if msg.ConversationID == q.ConversationID {
			clone := *msg
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakeConversationStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

func (s *fakeConversationStore) AddParticipant(ctx context.Context, conversationID, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	conv.Participants = append(conv.Participants, characterID)
	return nil
}

func (s *fakeConversationStore) RemoveParticipant(ctx context.Context, conversationID, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	kept := conv.Participants[:0]
	for _, p := range conv.Participants {
		if p != characterID {
			kept = append(kept, p)
		}
	}
	conv.Participants = kept
	return nil
}

func (s *fakeConversationStore) RecentConversations(ctx context.Context, characterID string, limit int) ([]*interfaces.Conversation, error) {
	return nil, nil
}

func (s *fakeConversationStore) ChannelConversations(ctx context.Context, characterID string, limit int) ([]*interfaces.Conversation, error) {
	return nil, nil
}

func (s *fakeConversationStore) message(id string) *interfaces.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id]
}

// fakeDeduper remembers claimed message ids.
type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (d *fakeDeduper) FirstCapture(ctx context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[messageID] {
		return false, nil
	}
	d.seen[messageID] = true
	return true, nil
}
