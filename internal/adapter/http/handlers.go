package http

import (
	"net/http"

	"github.com/evermind-ai/evermind/internal/domain/conversation"
	"github.com/evermind-ai/evermind/internal/domain/memory"
	"github.com/evermind-ai/evermind/internal/port/messagequeue"
	"github.com/evermind-ai/evermind/internal/service"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	chat     *service.ChatService
	memories *service.MemoryService
	queue    messagequeue.Queue
}

// NewHandlers creates the handler set. queue is optional and only feeds
// the health report.
func NewHandlers(chat *service.ChatService, memories *service.MemoryService, queue messagequeue.Queue) *Handlers {
	return &Handlers{chat: chat, memories: memories, queue: queue}
}

// Health reports liveness plus queue connectivity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status string `json:"status"`
		NATS   bool   `json:"nats"`
	}
	resp := health{Status: "ok"}
	if h.queue != nil {
		resp.NATS = h.queue.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateConversation starts a new thread.
func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.CreateRequest](w, r)
	if !ok {
		return
	}
	conv, err := h.chat.CreateConversation(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// ListConversations returns a user's threads.
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}
	convs, err := h.chat.ListConversations(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "conversations not found")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// GetConversation returns one thread.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.GetConversation(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a thread and its messages.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteConversation(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns a thread's messages in order.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.ListMessages(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage is the chat endpoint: it runs one full turn and returns the
// assistant's reply. Failed turns still carry the persisted apology
// message in the error response's place, under a status matching the
// failure kind.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[conversation.SendMessageRequest](w, r)
	if !ok {
		return
	}
	msg, err := h.chat.ProcessTurn(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		if msg != nil {
			writeJSON(w, turnFailureStatus(err), msg)
			return
		}
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// CreateMemory stores an explicit memory.
func (h *Handlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[memory.CreateRequest](w, r)
	if !ok {
		return
	}
	m, err := h.memories.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "memory not found")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMemories returns a user's memories under optional kind/tag filters.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}
	f := memory.Filter{
		Kind: memory.Kind(r.URL.Query().Get("kind")),
		Tags: r.URL.Query()["tag"],
	}
	mems, err := h.memories.List(r.Context(), userID, f)
	if err != nil {
		writeDomainError(w, err, "memories not found")
		return
	}
	writeJSON(w, http.StatusOK, mems)
}

// GetMemory returns one memory.
func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := h.memories.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateMemory applies a partial edit.
func (h *Handlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[memory.UpdateRequest](w, r)
	if !ok {
		return
	}
	m, err := h.memories.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMemory removes one memory.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.memories.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MemoryStats returns aggregate numbers for a user's memory store.
func (h *Handlers) MemoryStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}
	stats, err := h.memories.Stats(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "stats not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
