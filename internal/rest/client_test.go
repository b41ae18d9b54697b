package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quiz-platform/quizlive/internal/identity"
	"github.com/quiz-platform/quizlive/internal/quiz"
)

func testSession() *identity.Context {
	sess := &identity.Context{}
	sess.Init("u1", identity.RoleUser, "tok-1")
	return sess
}

func TestGetQuizzes(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]quiz.Quiz{{ID: "q1", Title: "Capitals"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSession())
	quizzes, err := c.GetQuizzes(context.Background(), quiz.StatusApproved)
	if err != nil {
		t.Fatalf("get quizzes: %v", err)
	}
	if gotPath != "/api/quizzes?status=APPROVED" {
		t.Errorf("path: %s", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("auth header: %q", gotAuth)
	}
	if len(quizzes) != 1 || quizzes[0].ID != "q1" {
		t.Errorf("quizzes: %+v", quizzes)
	}
}

func TestGetQuizzesNoFilter(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		json.NewEncoder(w).Encode([]quiz.Quiz{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSession())
	if _, err := c.GetQuizzes(context.Background(), ""); err != nil {
		t.Fatalf("get quizzes: %v", err)
	}
	if gotPath != "/api/quizzes" {
		t.Errorf("path: %s", gotPath)
	}
}

func TestSubmitAttempt(t *testing.T) {
	var gotQuery string
	var gotBody quiz.Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/results/submit" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSession())
	sub := quiz.Submission{
		Answers: []quiz.QuestionAnswers{
			{QuestionID: "q1", AnswerIDs: []quiz.ID{"a1"}},
			{QuestionID: "q2", AnswerIDs: []quiz.ID{}},
		},
		TimeSpentSeconds: 50,
	}
	if err := c.SubmitAttempt(context.Background(), "quiz-1", sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotQuery != "quiz_id=quiz-1" {
		t.Errorf("query: %s", gotQuery)
	}
	if gotBody.TimeSpentSeconds != 50 || len(gotBody.Answers) != 2 {
		t.Errorf("body: %+v", gotBody)
	}
	if gotBody.Answers[1].AnswerIDs == nil || len(gotBody.Answers[1].AnswerIDs) != 0 {
		t.Errorf("unanswered question must carry empty ids: %+v", gotBody.Answers[1])
	}
}

func TestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSession())
	_, err := c.GetMyResults(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenTracksSession(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]Result{})
	}))
	defer srv.Close()

	sess := testSession()
	c := NewClient(srv.URL, sess)

	sess.Init("u1", identity.RoleUser, "tok-2")
	if _, err := c.GetMyResults(context.Background()); err != nil {
		t.Fatalf("get results: %v", err)
	}
	if gotAuth != "Bearer tok-2" {
		t.Errorf("client must pick up the re-login token, got %q", gotAuth)
	}

	sess.Teardown()
	if _, err := c.GetMyResults(context.Background()); err != nil {
		t.Fatalf("get results: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("logged-out client must not send a token, got %q", gotAuth)
	}
}

func TestGetQuizNormalizesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_id": {"$oid": "abc123"}, "title": "Capitals", "status": "APPROVED"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSession())
	q, err := c.GetQuiz(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if q.ID != "abc123" {
		t.Errorf("expected normalized id abc123, got %q", q.ID)
	}
}
