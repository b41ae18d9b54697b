// Package devserver is an in-process stand-in for the platform's
// realtime gateway: websocket plus long-poll event delivery, an
// in-memory quiz store, and a scripted lifecycle generator. It exists
// for local development and integration tests; it trusts its tokens
// and enforces no business rules beyond what it needs to emit
// plausible events.
package devserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quiz-platform/quizlive/internal/identity"
	"github.com/quiz-platform/quizlive/internal/quiz"
)

// Envelope is the gateway wire frame. Seq is gateway-global and
// strictly increasing; control frames carry none.
type Envelope struct {
	Seq   uint64          `json:"seq,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	eventAuthenticate  = "authenticate"
	eventAuthenticated = "authenticated"
	eventError         = "error"
)

type authPayload struct {
	Token string `json:"token"`
}

type authAck struct {
	Role   string `json:"role"`
	Cursor uint64 `json:"cursor,omitempty"`
}

type errPayload struct {
	Message string `json:"message"`
}

// lifecyclePayload is the data of a quiz lifecycle frame.
type lifecyclePayload struct {
	QuizID     quiz.ID   `json:"quizId"`
	Title      string    `json:"title,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// principal is the identity behind one gateway connection or request.
type principal struct {
	userID string
	role   identity.Role
}

// rooms lists the delivery rooms this principal belongs to.
func (p principal) rooms() map[string]bool {
	return map[string]bool{
		"user:" + p.userID:       true,
		"role:" + string(p.role): true,
	}
}

// parseToken accepts the dev token format "ROLE:user-id". There is no
// signature; this gateway trusts its callers.
func parseToken(token string) (principal, error) {
	role, user, ok := strings.Cut(token, ":")
	if !ok || user == "" {
		return principal{}, fmt.Errorf("malformed token")
	}
	switch identity.Role(role) {
	case identity.RoleUser, identity.RoleModerator, identity.RoleAdmin:
		return principal{userID: user, role: identity.Role(role)}, nil
	}
	return principal{}, fmt.Errorf("unknown role %q", role)
}
