// Package identity holds the process-wide session context: who is
// logged in, with what role and token. It replaces ad-hoc reads of
// shared auth state with an explicit init/teardown lifecycle; callers
// receive the *Context by injection.
package identity

import "sync"

// Role is advisory on the client; authoritative checks live server-side.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// Context is the session context for one authenticated client process.
// The zero value is a logged-out context.
type Context struct {
	mu     sync.RWMutex
	userID string
	role   Role
	token  string
	active bool
}

// Init installs the identity after a successful login. Calling Init on
// an already-active context replaces the identity (re-login).
func (c *Context) Init(userID string, role Role, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.role = role
	c.token = token
	c.active = true
}

// Teardown clears the identity on logout or a 401. Idempotent.
func (c *Context) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	c.role = ""
	c.token = ""
	c.active = false
}

// Active reports whether an identity is installed.
func (c *Context) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// UserID returns the logged-in user's ID, or "" when logged out.
func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Role returns the logged-in user's role, or "" when logged out.
func (c *Context) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Token returns the opaque identity token. The core never inspects it;
// it is forwarded verbatim to the gateway handshake and REST calls.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}
