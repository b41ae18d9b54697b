package identity

import "testing"

func TestContextLifecycle(t *testing.T) {
	var ctx Context

	if ctx.Active() {
		t.Fatal("zero context should be logged out")
	}

	ctx.Init("u1", RoleModerator, "tok-1")
	if !ctx.Active() {
		t.Fatal("expected active after Init")
	}
	if ctx.UserID() != "u1" || ctx.Role() != RoleModerator || ctx.Token() != "tok-1" {
		t.Errorf("identity not installed: %q %q %q", ctx.UserID(), ctx.Role(), ctx.Token())
	}

	// Re-login replaces the identity.
	ctx.Init("u2", RoleAdmin, "tok-2")
	if ctx.UserID() != "u2" || ctx.Role() != RoleAdmin {
		t.Errorf("re-login did not replace identity: %q %q", ctx.UserID(), ctx.Role())
	}

	ctx.Teardown()
	if ctx.Active() || ctx.Token() != "" {
		t.Error("teardown did not clear identity")
	}

	// Teardown is idempotent.
	ctx.Teardown()
	if ctx.Active() {
		t.Error("second teardown changed state")
	}
}
