package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/identity"
	"github.com/quiz-platform/quizlive/internal/quiz"
)

const defaultPollWait = 25 * time.Second

// Server wires the hub and store behind the gateway's HTTP surface:
// /ws, /events/send, /events/poll and the /api query endpoints.
type Server struct {
	hub      *Hub
	store    *Store
	log      zerolog.Logger
	pollWait time.Duration
}

func NewServer(store *Store, hub *Hub, logger zerolog.Logger) *Server {
	s := &Server{
		hub:      hub,
		store:    store,
		log:      logger,
		pollWait: defaultPollWait,
	}
	store.OnLifecycle(s.publishLifecycle)
	return s
}

// SetPollWait shortens the long-poll hold; used by tests.
func (s *Server) SetPollWait(d time.Duration) { s.pollWait = d }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/events/send", s.handleSend)
	mux.HandleFunc("/events/poll", s.handlePoll)
	mux.HandleFunc("/api/quizzes", s.handleQuizzes)
	mux.HandleFunc("/api/quizzes/my", s.handleMyQuizzes)
	mux.HandleFunc("/api/quizzes/pending", s.handlePendingQuizzes)
	mux.HandleFunc("/api/quizzes/", s.handleQuizRoutes)
	mux.HandleFunc("/api/results/submit", s.handleSubmit)
	mux.HandleFunc("/api/results/my", s.handleMyResults)
}

// publishLifecycle routes a moderation event to its audience: creations
// go to the moderation rooms, approvals and rejections to the author,
// deletions to the moderation role that did not perform them.
func (s *Server) publishLifecycle(kind quiz.Kind, q quiz.Quiz, actor principal) {
	var rooms map[string]bool
	switch kind {
	case quiz.Created:
		rooms = map[string]bool{"role:" + string(identity.RoleAdmin): true, "role:" + string(identity.RoleModerator): true}
	case quiz.Approved, quiz.Rejected:
		rooms = map[string]bool{"user:" + string(q.AuthorID): true}
	case quiz.Deleted:
		switch actor.role {
		case identity.RoleAdmin:
			rooms = map[string]bool{"role:" + string(identity.RoleModerator): true}
		case identity.RoleModerator:
			rooms = map[string]bool{"role:" + string(identity.RoleAdmin): true}
		default:
			rooms = map[string]bool{"role:" + string(identity.RoleAdmin): true, "role:" + string(identity.RoleModerator): true}
		}
	}

	topic := topicFor(kind)
	if topic == "" {
		return
	}
	s.hub.Publish(topic, lifecyclePayload{
		QuizID:     q.ID,
		Title:      q.Title,
		OccurredAt: time.Now().UTC(),
	}, rooms)
}

func topicFor(kind quiz.Kind) string {
	switch kind {
	case quiz.Created:
		return quiz.TopicCreated
	case quiz.Approved:
		return quiz.TopicApproved
	case quiz.Rejected:
		return quiz.TopicRejected
	case quiz.Deleted:
		return quiz.TopicDeleted
	}
	return ""
}

// --- realtime surface ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	// First frame must authenticate.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil || env.Event != eventAuthenticate {
		conn.WriteJSON(errorEnvelope("authenticate first"))
		conn.Close()
		return
	}
	var auth authPayload
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		conn.WriteJSON(errorEnvelope("malformed authenticate frame"))
		conn.Close()
		return
	}
	p, err := parseToken(auth.Token)
	if err != nil {
		conn.WriteJSON(errorEnvelope("invalid token"))
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	// The ack rides the write pump as the registration greeting: it is
	// queued before the client is visible to Publish, so no lifecycle
	// frame can reach the wire ahead of it, and nothing published after
	// the client sees the ack can miss the fan-out.
	ack, _ := json.Marshal(authAck{Role: string(p.role), Cursor: s.hub.Cursor()})
	raw, _ := json.Marshal(Envelope{Event: eventAuthenticated, Data: ack})
	c := s.hub.addClient(conn, p.rooms(), raw)

	s.log.Info().Str("user", p.userID).Str("role", string(p.role)).Msg("ws client connected")

	go func() {
		defer func() {
			s.hub.removeClient(c)
			s.log.Info().Str("user", p.userID).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func errorEnvelope(msg string) Envelope {
	data, _ := json.Marshal(errPayload{Message: msg})
	return Envelope{Event: eventError, Data: data}
}

// handleSend is the long-poll control path. An authenticate envelope
// yields the authenticated ack (or an error envelope) in the response
// body.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch env.Event {
	case eventAuthenticate:
		var auth authPayload
		if err := json.Unmarshal(env.Data, &auth); err != nil {
			json.NewEncoder(w).Encode(errorEnvelope("malformed authenticate frame"))
			return
		}
		p, err := parseToken(auth.Token)
		if err != nil {
			json.NewEncoder(w).Encode(errorEnvelope("invalid token"))
			return
		}
		ack, _ := json.Marshal(authAck{Role: string(p.role), Cursor: s.hub.Cursor()})
		json.NewEncoder(w).Encode(Envelope{Event: eventAuthenticated, Data: ack})
	default:
		w.Write([]byte(`{}`))
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r)
	if !ok {
		return
	}
	cursor, _ := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)

	events, next := s.hub.Poll(r.Context(), p.rooms(), cursor, s.pollWait)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Cursor uint64     `json:"cursor"`
		Events []Envelope `json:"events"`
	}{Cursor: next, Events: events})
}

// --- query surface ---

func (s *Server) handleQuizzes(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		status := quiz.Status(r.URL.Query().Get("status"))
		if status == "" {
			status = quiz.StatusApproved
		}
		writeJSON(w, s.store.List(status))
	case http.MethodPost:
		var q quiz.Quiz
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "malformed quiz", http.StatusBadRequest)
			return
		}
		writeJSON(w, s.store.Create(q, p))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMyQuizzes(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.store.ByAuthor(p.userID))
}

func (s *Server) handlePendingQuizzes(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	writeJSON(w, s.store.List(quiz.StatusPending))
}

// handleQuizRoutes parses /api/quizzes/{id}[/approve|/reject|/leaderboard].
func (s *Server) handleQuizRoutes(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/quizzes/")
	id, action, _ := strings.Cut(path, "/")
	quizID := quiz.ID(id)

	switch {
	case action == "" && r.Method == http.MethodGet:
		q, found := s.store.Get(quizID)
		if !found {
			http.Error(w, "quiz not found", http.StatusNotFound)
			return
		}
		writeJSON(w, q)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.store.Delete(quizID, p); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "approve" && r.Method == http.MethodPost:
		s.moderate(w, s.store.Approve, quizID, p)
	case action == "reject" && r.Method == http.MethodPost:
		s.moderate(w, s.store.Reject, quizID, p)
	case action == "leaderboard" && r.Method == http.MethodGet:
		writeJSON(w, s.store.Leaderboard(quizID))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) moderate(w http.ResponseWriter, op func(quiz.ID, principal) (quiz.Quiz, error), id quiz.ID, p principal) {
	q, err := op(id, p)
	switch {
	case err == ErrQuizNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case err == ErrBadTransition:
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, q)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	quizID := quiz.ID(r.URL.Query().Get("quiz_id"))
	var sub quiz.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "malformed submission", http.StatusBadRequest)
		return
	}
	res, err := s.store.SubmitResult(p.userID, quizID, sub)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleMyResults(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.store.ResultsFor(p.userID))
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (principal, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return principal{}, false
	}
	p, err := parseToken(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return principal{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
