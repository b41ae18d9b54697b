// Package rest is the query and submission surface of the platform's
// HTTP API. Lifecycle events only signal that something changed; the
// data itself is always re-fetched through this client.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quiz-platform/quizlive/internal/identity"
	"github.com/quiz-platform/quizlive/internal/quiz"
)

// ErrUnauthorized signals a 401; the caller should tear down the
// session context and re-login.
var ErrUnauthorized = errors.New("unauthorized")

// Client makes REST calls to the platform backend. The bearer token is
// read from the session context per request, so a re-login takes effect
// without rebuilding the client.
type Client struct {
	baseURL string
	session *identity.Context
	client  *http.Client
}

// NewClient creates a client targeting the given base URL
// (e.g. "http://127.0.0.1:8080").
func NewClient(baseURL string, session *identity.Context) *Client {
	return &Client{
		baseURL: baseURL,
		session: session,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetQuizzes fetches the approved quiz list, optionally filtered by
// status (admins and moderators may query any status).
func (c *Client) GetQuizzes(ctx context.Context, status quiz.Status) ([]quiz.Quiz, error) {
	path := "/api/quizzes"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []quiz.Quiz
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMyQuizzes fetches the quizzes authored by the logged-in user.
func (c *Client) GetMyQuizzes(ctx context.Context) ([]quiz.Quiz, error) {
	var out []quiz.Quiz
	if err := c.get(ctx, "/api/quizzes/my", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingQuizzes fetches the moderation queue.
func (c *Client) GetPendingQuizzes(ctx context.Context) ([]quiz.Quiz, error) {
	var out []quiz.Quiz
	if err := c.get(ctx, "/api/quizzes/pending", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetQuiz fetches one quiz with its questions.
func (c *Client) GetQuiz(ctx context.Context, id quiz.ID) (*quiz.Quiz, error) {
	var q quiz.Quiz
	if err := c.get(ctx, "/api/quizzes/"+url.PathEscape(string(id)), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SubmitAttempt posts a finished attempt for grading.
func (c *Client) SubmitAttempt(ctx context.Context, quizID quiz.ID, sub quiz.Submission) error {
	path := "/api/results/submit?quiz_id=" + url.QueryEscape(string(quizID))
	return c.post(ctx, path, sub, nil)
}

// GetMyResults fetches the logged-in user's graded attempts.
func (c *Client) GetMyResults(ctx context.Context) ([]Result, error) {
	var out []Result
	if err := c.get(ctx, "/api/results/my", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLeaderboard fetches the per-quiz leaderboard, best score first.
func (c *Client) GetLeaderboard(ctx context.Context, quizID quiz.ID) ([]LeaderboardEntry, error) {
	var out []LeaderboardEntry
	if err := c.get(ctx, "/api/quizzes/"+url.PathEscape(string(quizID))+"/leaderboard", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus("GET", path, resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus("POST", path, resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func checkStatus(method, path string, resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, string(body))
}

func (c *Client) setAuth(req *http.Request) {
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
