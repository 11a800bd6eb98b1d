package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/aspired-future/startales-sub005/internal/interfaces"
	"github.com/aspired-future/startales-sub005/internal/rag"
	"github.com/aspired-future/startales-sub005/internal/storage"
)

type Handlers struct {
	cache         *rag.EmbeddingCache
	queue         *rag.CaptureQueue
	search        *rag.SemanticSearchEngine
	assembler     *rag.ContextAssembler
	store         *rag.MemoryStore
	conversations interfaces.ConversationStore
	convService   *rag.ConversationService
	redis         *storage.RedisStore // may be nil
	logger        *log.Logger
}

func NewHandlers(cache *rag.EmbeddingCache, queue *rag.CaptureQueue, search *rag.SemanticSearchEngine, assembler *rag.ContextAssembler, store *rag.MemoryStore, conversations interfaces.ConversationStore, convService *rag.ConversationService, redis *storage.RedisStore, logger *log.Logger) *Handlers {
	return &Handlers{
		cache:         cache,
		queue:         queue,
		search:        search,
		assembler:     assembler,
		store:         store,
		conversations: conversations,
		convService:   convService,
		redis:         redis,
		logger:        logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rag.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, rag.ErrProviderUnavailable),
		errors.Is(err, rag.ErrStoreUnavailable),
		errors.Is(err, rag.ErrSearchUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health, err := h.store.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "memory-engine",
		"index":   health,
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache":   h.cache.Stats(),
		"capture": h.queue.Stats(),
	})
}

// CaptureRequest is the wire shape for message capture. Role defaults to
// "user" when omitted.
type CaptureRequest struct {
	ID             string                 `json:"id,omitempty"`
	Role           string                 `json:"role,omitempty"`
	SenderID       string                 `json:"sender_id,omitempty"`
	Content        string                 `json:"content"`
	CampaignID     string                 `json:"campaign_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Entities       []string               `json:"entities,omitempty"`
	ActionType     string                 `json:"action_type,omitempty"`
	GameState      map[string]interface{} `json:"game_state,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
}

func (h *Handlers) Capture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	role := interfaces.RoleUser
	if req.Role != "" {
		role = interfaces.MessageRole(req.Role)
	}

	msg := &rag.CapturedMessage{
		ID:       req.ID,
		Role:     role,
		SenderID: req.SenderID,
		Content:  req.Content,
		Context: interfaces.MemoryContext{
			CampaignID:     req.CampaignID,
			ConversationID: req.ConversationID,
			Entities:       req.Entities,
			ActionType:     req.ActionType,
			GameState:      req.GameState,
			UserID:         req.UserID,
		},
	}

	if err := h.queue.Enqueue(msg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"id":     msg.ID,
	})
}

// SearchRequest is the wire shape for semantic search.
type SearchRequest struct {
	Text    string               `json:"text"`
	Context MemoryContextRequest `json:"context"`
	Limit   int                  `json:"limit,omitempty"`
	Offset  int                  `json:"offset,omitempty"`

	MinScore float64 `json:"min_score,omitempty"`
	MaxScore float64 `json:"max_score,omitempty"`

	ExpandQuery bool          `json:"expand_query,omitempty"`
	Boost       *BoostRequest `json:"boost,omitempty"`

	Roles              []string `json:"roles,omitempty"`
	ExcludeEntities    []string `json:"exclude_entities,omitempty"`
	RequireEntities    []string `json:"require_entities,omitempty"`
	ActionTypes        []string `json:"action_types,omitempty"`
	ExcludeActionTypes []string `json:"exclude_action_types,omitempty"`

	GroupBy    string `json:"group_by,omitempty"`
	GroupLimit int    `json:"group_limit,omitempty"`

	ExcludeConversationID string `json:"exclude_conversation_id,omitempty"`

	TimeFrom *time.Time `json:"time_from,omitempty"`
	TimeTo   *time.Time `json:"time_to,omitempty"`
}

type MemoryContextRequest struct {
	CampaignID     string   `json:"campaign_id"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Entities       []string `json:"entities,omitempty"`
	ActionType     string   `json:"action_type,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
}

type BoostRequest struct {
	Entities         []string `json:"entities,omitempty"`
	EntityFactor     float64  `json:"entity_factor,omitempty"`
	ActionType       string   `json:"action_type,omitempty"`
	ActionTypeFactor float64  `json:"action_type_factor,omitempty"`
	RecencyFactor    float64  `json:"recency_factor,omitempty"`
	MaxAgeHours      float64  `json:"max_age_hours,omitempty"`
}

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	query := &rag.SemanticSearchQuery{
		Text: req.Text,
		Context: interfaces.MemoryContext{
			CampaignID:     req.Context.CampaignID,
			ConversationID: req.Context.ConversationID,
			Entities:       req.Context.Entities,
			ActionType:     req.Context.ActionType,
			UserID:         req.Context.UserID,
		},
		Limit:                 req.Limit,
		Offset:                req.Offset,
		MinScore:              req.MinScore,
		MaxScore:              req.MaxScore,
		ExpandQuery:           req.ExpandQuery,
		ExcludeEntities:       req.ExcludeEntities,
		RequireEntities:       req.RequireEntities,
		ActionTypes:           req.ActionTypes,
		ExcludeActionTypes:    req.ExcludeActionTypes,
		GroupBy:               rag.GroupBy(req.GroupBy),
		GroupLimit:            req.GroupLimit,
		ExcludeConversationID: req.ExcludeConversationID,
	}
	for _, role := range req.Roles {
		query.Roles = append(query.Roles, interfaces.MessageRole(role))
	}
	if req.Boost != nil {
		query.Boost = &rag.BoostOptions{
			Entities:         req.Boost.Entities,
			EntityFactor:     req.Boost.EntityFactor,
			ActionType:       req.Boost.ActionType,
			ActionTypeFactor: req.Boost.ActionTypeFactor,
			RecencyFactor:    req.Boost.RecencyFactor,
			MaxAgeHours:      req.Boost.MaxAgeHours,
		}
	}
	if req.TimeFrom != nil {
		query.TimeFrom = *req.TimeFrom
	}
	if req.TimeTo != nil {
		query.TimeTo = *req.TimeTo
	}

	resp, err := h.search.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AssembleRequest is the wire shape for prompt augmentation.
type AssembleRequest struct {
	Prompt           string                 `json:"prompt"`
	Context          MemoryContextRequest   `json:"context"`
	Limit            int                    `json:"limit,omitempty"`
	IncludeEntities  bool                   `json:"include_entities,omitempty"`
	IncludeGameState bool                   `json:"include_game_state,omitempty"`
	GameState        map[string]interface{} `json:"game_state,omitempty"`
}

func (req *AssembleRequest) memoryContext() interfaces.MemoryContext {
	return interfaces.MemoryContext{
		CampaignID:     req.Context.CampaignID,
		ConversationID: req.Context.ConversationID,
		Entities:       req.Context.Entities,
		ActionType:     req.Context.ActionType,
		GameState:      req.GameState,
		UserID:         req.Context.UserID,
	}
}

func (req *AssembleRequest) options() *rag.AssembleOptions {
	return &rag.AssembleOptions{
		Limit:            req.Limit,
		IncludeEntities:  req.IncludeEntities,
		IncludeGameState: req.IncludeGameState,
	}
}

func (h *Handlers) Assemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	assembled, err := h.assembler.Assemble(r.Context(), req.Prompt, req.memoryContext(), req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assembled)
}

func (h *Handlers) Respond(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	completion, assembled, err := h.assembler.Respond(r.Context(), req.Prompt, req.memoryContext(), req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"completion": completion,
		"assembled":  assembled,
	})
}

// Conversation endpoints

type CreateConversationRequest struct {
	CampaignID   string   `json:"campaign_id"`
	CharacterID  string   `json:"character_id"`
	Type         string   `json:"type,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Title        string   `json:"title,omitempty"`
}

func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CampaignID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "campaign_id is required"})
		return
	}

	convType := interfaces.ConversationIndividual
	if req.Type != "" {
		convType = interfaces.ConversationType(req.Type)
	}

	conv := &interfaces.Conversation{
		CampaignID:   req.CampaignID,
		CharacterID:  req.CharacterID,
		Type:         convType,
		Participants: req.Participants,
		Title:        req.Title,
	}
	id, err := h.conversations.CreateConversation(r.Context(), conv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) GetConversationMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.conversations.GetMessages(r.Context(), &interfaces.MessageQuery{
		ConversationID: chi.URLParam(r, "id"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type ParticipantRequest struct {
	CharacterID string `json:"character_id"`
}

func (h *Handlers) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CharacterID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "character_id is required"})
		return
	}
	if err := h.conversations.AddParticipant(r.Context(), chi.URLParam(r, "id"), req.CharacterID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (h *Handlers) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "character_id")
	if err := h.conversations.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), characterID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ConversationSearchRequest is the wire shape for content search across a
// character's conversations.
type ConversationSearchRequest struct {
	CharacterID string `json:"character_id"`
	CampaignID  string `json:"campaign_id"`
	Text        string `json:"text"`
	Limit       int    `json:"limit,omitempty"`
}

func (h *Handlers) SearchConversations(w http.ResponseWriter, r *http.Request) {
	var req ConversationSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	hits, err := h.convService.SearchConversations(r.Context(), req.CharacterID, req.CampaignID, req.Text, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": hits})
}

func (h *Handlers) ConversationContext(w http.ResponseWriter, r *http.Request) {
	characterID := r.URL.Query().Get("character_id")
	if characterID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "character_id is required"})
		return
	}
	maxHistory, _ := strconv.Atoi(r.URL.Query().Get("max_history"))

	convCtx, err := h.convService.BuildContext(r.Context(), characterID, chi.URLParam(r, "id"), maxHistory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convCtx)
}

func (h *Handlers) RecentConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := h.conversations.RecentConversations(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (h *Handlers) ChannelConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := h.conversations.ChannelConversations(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (h *Handlers) RecentCampaignMessages(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "recent message cache not available"})
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	msgs, err := h.redis.RecentMessages(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}
