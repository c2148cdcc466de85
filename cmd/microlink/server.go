package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
	"github.com/TeskaLabs/llm-microlink/internal/journal"
	"github.com/TeskaLabs/llm-microlink/internal/library"
	"github.com/TeskaLabs/llm-microlink/internal/router"
)

// server is the HTTP facade: REST endpoints for conversation control and
// a websocket bridge carrying the monitor event stream.
type server struct {
	router   *router.Service
	library  *library.Service
	journal  *journal.Journal
	upgrader websocket.Upgrader
}

func newServer(svc *router.Service, lib *library.Service, events *journal.Journal) *server {
	return &server{
		router:  svc,
		library: lib,
		journal: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversation", s.createConversation)
	mux.HandleFunc("POST /conversation/{id}/message", s.postMessage)
	mux.HandleFunc("POST /conversation/{id}/stop", s.stopConversation)
	mux.HandleFunc("POST /conversation/{id}/restart", s.restartConversation)
	mux.HandleFunc("POST /conversation/{id}/instructions", s.updateInstructions)
	mux.HandleFunc("GET /conversation/{id}/ws", s.monitorConversation)
	mux.HandleFunc("GET /models", s.listModels)
	mux.HandleFunc("GET /library/search", s.searchLibrary)
	return mux
}

func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.router.CreateConversation(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	if s.journal != nil {
		conv.AddMonitor(s.journal.Monitor(conv.ID))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation_id": conv.ID})
}

func (s *server) conversation(w http.ResponseWriter, r *http.Request) *chat.Conversation {
	conv, err := s.router.GetConversation(r.Context(), r.PathValue("id"), false)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return nil
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return nil
	}
	return conv
}

func (s *server) postMessage(w http.ResponseWriter, r *http.Request) {
	conv := s.conversation(w, r)
	if conv == nil {
		return
	}

	var body struct {
		Content string `json:"content"`
		Model   string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if body.Content == "" || body.Model == "" {
		http.Error(w, "content and model are required", http.StatusBadRequest)
		return
	}

	msg := chat.NewUserMessage(body.Content, body.Model)
	if err := s.router.CreateExchange(r.Context(), conv, msg); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"key": msg.Key})
}

func (s *server) stopConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.conversation(w, r)
	if conv == nil {
		return
	}
	s.router.StopConversation(conv)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) restartConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.conversation(w, r)
	if conv == nil {
		return
	}

	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}
	s.router.RestartConversation(conv, body.Key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) updateInstructions(w http.ResponseWriter, r *http.Request) {
	conv := s.conversation(w, r)
	if conv == nil {
		return
	}

	var body struct {
		Item   string         `json:"item"`
		Params map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Item == "" {
		http.Error(w, "item is required", http.StatusBadRequest)
		return
	}
	if err := s.router.UpdateInstructions(r.Context(), conv, body.Item, body.Params); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// monitorConversation bridges the monitor event stream onto a websocket.
// The client receives a full snapshot on attach and every event after.
func (s *server) monitorConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.conversation(w, r)
	if conv == nil {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Gorilla connections allow one concurrent writer.
	var mu sync.Mutex
	monitor := func(_ context.Context, event map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		return conn.WriteJSON(event)
	}

	s.router.SendFullUpdate(r.Context(), conv, monitor)
	conv.AddMonitor(monitor)

	// Drain client frames; exit closes the socket and the monitor turns
	// into a permanent error that surfaces on the next broadcast.
	go func() {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.router.GetModels(r.Context())})
}

func (s *server) searchLibrary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := s.library.Search(query, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Cannot write response")
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	log.Error().Err(err).Msg("Request failed")
	http.Error(w, err.Error(), status)
}
