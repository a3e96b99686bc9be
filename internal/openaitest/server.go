// Package openaitest provides an in-process fake of the OpenAI Assistants
// and chat completion endpoints for tests.
package openaitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sashabaranov/go-openai"
)

// Steps counted by the server.
const (
	StepCreateThread    = "create_thread"
	StepCreateMessage   = "create_message"
	StepCreateRun       = "create_run"
	StepRetrieveRun     = "retrieve_run"
	StepListMessages    = "list_messages"
	StepChatCompletions = "chat_completions"
)

// Failure makes one step answer with an error.
type Failure struct {
	Step   string
	Status int
	Body   string
	// Plain sends Body as text/plain instead of the JSON error envelope.
	Plain bool
}

// Server is a scripted fake of the OpenAI API. Configure the exported fields
// before issuing requests.
type Server struct {
	*httptest.Server

	// RunStatuses are returned by successive status checks; the last one
	// repeats. Empty means "completed".
	RunStatuses []openai.RunStatus
	// LastError is attached to terminal failure statuses.
	LastError *openai.RunLastError
	// Reply is the assistant message added when a run completes.
	Reply string
	// Messages, when set, replace the thread's message list verbatim.
	Messages []openai.Message
	// VisionReply is the chat completion answer.
	VisionReply string
	Fail        *Failure

	mu         sync.Mutex
	calls      map[string]int
	nextID     int
	threads    map[string][]openai.Message
	runs       map[string]int
	posted     []string
	betaHeader []string
	clock      int
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		Reply:       "Hello from the assistant",
		VisionReply: "A small red square.",
		calls:       map[string]int{},
		threads:     map[string][]openai.Message{},
		runs:        map[string]int{},
		clock:       1700000000,
	}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/threads", s.createThread)
		r.Post("/threads/{threadID}/messages", s.createMessage)
		r.Get("/threads/{threadID}/messages", s.listMessages)
		r.Post("/threads/{threadID}/runs", s.createRun)
		r.Get("/threads/{threadID}/runs/{runID}", s.retrieveRun)
		r.Post("/chat/completions", s.chatCompletions)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the value for openai.ClientConfig.BaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

// Client returns a go-openai client pointed at the server.
func (s *Server) Client() *openai.Client {
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = s.BaseURL()
	return openai.NewClientWithConfig(cfg)
}

// Calls returns how often step was requested.
func (s *Server) Calls(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[step]
}

// TotalCalls returns the number of requests across all steps.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Posted returns the content of every user message received.
func (s *Server) Posted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.posted...)
}

// BetaHeaders returns the OpenAI-Beta header of every assistants request.
func (s *Server) BetaHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.betaHeader...)
}

// Threads returns the number of threads created.
func (s *Server) Threads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// begin counts the call and reports whether the step should fail.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, step string) bool {
	s.calls[step]++
	if step != StepChatCompletions {
		s.betaHeader = append(s.betaHeader, r.Header.Get("OpenAI-Beta"))
	}
	if s.Fail != nil && s.Fail.Step == step {
		body := s.Fail.Body
		if body == "" {
			body = "upstream exploded"
		}
		if s.Fail.Plain {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(s.Fail.Status)
			_, _ = w.Write([]byte(body))
			return false
		}
		writeJSON(w, s.Fail.Status, map[string]any{
			"error": map[string]any{"message": body, "type": "server_error"},
		})
		return false
	}
	return true
}

func (s *Server) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s_%d", prefix, s.nextID)
}

func (s *Server) tick() int {
	s.clock++
	return s.clock
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r, StepCreateThread) {
		return
	}

	id := s.id("thread")
	s.threads[id] = nil
	writeJSON(w, http.StatusOK, openai.Thread{ID: id, Object: "thread", CreatedAt: int64(s.tick())})
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r, StepCreateMessage) {
		return
	}

	threadID := chi.URLParam(r, "threadID")
	if _, ok := s.threads[threadID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"message": "No thread found with id '" + threadID + "'.", "type": "invalid_request_error"},
		})
		return
	}

	var req openai.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	s.posted = append(s.posted, req.Content)

	msg := textMessage(s.id("msg"), threadID, req.Role, req.Content, s.tick(), nil)
	s.threads[threadID] = append(s.threads[threadID], msg)
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r, StepCreateRun) {
		return
	}

	var req openai.RunRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	id := s.id("run")
	s.runs[id] = 0
	writeJSON(w, http.StatusOK, openai.Run{
		ID:          id,
		Object:      "thread.run",
		ThreadID:    chi.URLParam(r, "threadID"),
		AssistantID: req.AssistantID,
		Status:      openai.RunStatusQueued,
	})
}

func (s *Server) retrieveRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r, StepRetrieveRun) {
		return
	}

	threadID, runID := chi.URLParam(r, "threadID"), chi.URLParam(r, "runID")
	n := s.runs[runID]
	s.runs[runID] = n + 1

	status := openai.RunStatusCompleted
	if len(s.RunStatuses) > 0 {
		status = s.RunStatuses[min(n, len(s.RunStatuses)-1)]
	}

	run := openai.Run{ID: runID, Object: "thread.run", ThreadID: threadID, Status: status}
	switch status {
	case openai.RunStatusCompleted:
		if !s.hasReply(threadID, runID) {
			rid := runID
			s.threads[threadID] = append(s.threads[threadID],
				textMessage(s.id("msg"), threadID, openai.ChatMessageRoleAssistant, s.Reply, s.tick(), &rid))
		}
	case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
		run.LastError = s.LastError
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) hasReply(threadID, runID string) bool {
	for _, m := range s.threads[threadID] {
		if m.RunID != nil && *m.RunID == runID {
			return true
		}
	}
	return false
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r, StepListMessages) {
		return
	}

	messages := s.Messages
	if messages == nil {
		thread := s.threads[chi.URLParam(r, "threadID")]
		messages = make([]openai.Message, 0, len(thread))
		if r.URL.Query().Get("order") == "asc" {
			messages = append(messages, thread...)
		} else {
			for i := len(thread) - 1; i >= 0; i-- {
				messages = append(messages, thread[i])
			}
		}
	}
	writeJSON(w, http.StatusOK, openai.MessagesList{Messages: messages})
}

func (s *Server) chatCompletions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begin(w, r, StepChatCompletions) {
		return
	}

	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      s.id("chatcmpl"),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: s.VisionReply},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

// TextMessage builds a message with a single text part.
func TextMessage(id, role, text string, createdAt int, runID *string) openai.Message {
	return textMessage(id, "", role, text, createdAt, runID)
}

func textMessage(id, threadID, role, text string, createdAt int, runID *string) openai.Message {
	return openai.Message{
		ID:        id,
		Object:    "thread.message",
		CreatedAt: createdAt,
		ThreadID:  threadID,
		Role:      role,
		Content: []openai.MessageContent{{
			Type: "text",
			Text: &openai.MessageText{Value: text},
		}},
		RunID: runID,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
