package auth_test

import (
	"context"
	"errors"
	"testing"

	"emerald.finance/internal/audit"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/store/memory"
	"emerald.finance/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newService(t *testing.T) (*auth.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	codec, err := auth.NewCodec(testSecret)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	ledger, err := token.NewLedger(codec)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	svc, err := auth.NewService(st, codec, ledger, audit.NewRecorder())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st
}

func register(t *testing.T, svc *auth.Service) (*auth.User, auth.TokenPair) {
	t.Helper()
	user, pair, err := svc.Register(context.Background(), "alice@example.com", "alice", "s3cretpass", audit.RequestMeta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user, pair
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	user, regPair := register(t, svc)
	if user.PasswordHash == "s3cretpass" {
		t.Fatal("password stored in plaintext")
	}

	loggedIn, loginPair, err := svc.Login(ctx, "Alice@Example.com", "s3cretpass", audit.RequestMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("login returned user %s, want %s", loggedIn.ID, user.ID)
	}
	if loggedIn.LastLoginAt == nil {
		t.Fatal("last login not stamped")
	}

	rotated, err := svc.Refresh(ctx, loginPair.RefreshToken, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == loginPair.RefreshToken {
		t.Fatal("rotation returned the same refresh secret")
	}

	// The presented secret is single use.
	if _, err := svc.Refresh(ctx, loginPair.RefreshToken, audit.RequestMeta{}); !errors.Is(err, token.ErrCompromised) {
		t.Fatalf("replayed secret: want ErrCompromised, got %v", err)
	}

	// Reuse detection revoked the whole login family, successor included.
	if _, err := svc.Refresh(ctx, rotated.RefreshToken, audit.RequestMeta{}); !errors.Is(err, token.ErrCompromised) {
		t.Fatalf("successor after reuse: want ErrCompromised, got %v", err)
	}

	// The registration family is independent and still rotates.
	if _, err := svc.Refresh(ctx, regPair.RefreshToken, audit.RequestMeta{}); err != nil {
		t.Fatalf("registration family refresh: %v", err)
	}

	events, _, err := st.Audit().ListAll(ctx, audit.Filter{Action: audit.ActionTokenRefresh, Status: audit.StatusFailure}, audit.Page{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 failed refresh events, got %d", len(events))
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	register(t, svc)

	if _, _, err := svc.Register(ctx, "alice@example.com", "other", "s3cretpass", audit.RequestMeta{}); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("duplicate email: want ErrAlreadyExists, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "other@example.com", "alice", "s3cretpass", audit.RequestMeta{}); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("duplicate username: want ErrAlreadyExists, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "bob@example.com", "bob", "short", audit.RequestMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("short password: want ErrInvalidInput, got %v", err)
	}
}

func TestLoginFailuresAreUniformAndAudited(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	register(t, svc)

	attempts := []struct{ email, password string }{
		{"alice@example.com", "wrongpass1"},
		{"alice@example.com", "wrongpass2"},
		{"nobody@example.com", "whatever1"},
	}
	for _, a := range attempts {
		_, _, err := svc.Login(ctx, a.email, a.password, audit.RequestMeta{ClientIP: "10.1.1.1"})
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("login %s: want ErrInvalidCredentials, got %v", a.email, err)
		}
	}

	failed, total, err := st.Audit().ListAll(ctx, audit.Filter{Action: audit.ActionLoginFailed}, audit.Page{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 3 {
		t.Fatalf("want 3 failed login events, got %d", total)
	}
	for _, e := range failed {
		if e.ActorID != nil {
			t.Fatalf("failed login event carries an actor: %+v", e)
		}
		if e.Status != audit.StatusFailure || e.ErrorMessage == "" {
			t.Fatalf("failed login event malformed: %+v", e)
		}
		if e.ClientIP != "10.1.1.1" {
			t.Fatalf("request meta not applied: %+v", e)
		}
	}

	if _, total, _ := st.Audit().ListAll(ctx, audit.Filter{Action: audit.ActionLogin}, audit.Page{}); total != 0 {
		t.Fatalf("failed attempts must not record LOGIN success events, got %d", total)
	}
}

func TestLogoutRevokesOnlyPresentedToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	register(t, svc)

	_, desktop, err := svc.Login(ctx, "alice@example.com", "s3cretpass", audit.RequestMeta{})
	if err != nil {
		t.Fatalf("desktop login: %v", err)
	}
	_, phone, err := svc.Login(ctx, "alice@example.com", "s3cretpass", audit.RequestMeta{})
	if err != nil {
		t.Fatalf("phone login: %v", err)
	}

	if err := svc.Logout(ctx, desktop.RefreshToken, audit.RequestMeta{}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	// A logged-out token reads as compromised when replayed: it is a revoked
	// member of a live family.
	if _, err := svc.Refresh(ctx, desktop.RefreshToken, audit.RequestMeta{}); err == nil {
		t.Fatal("logged-out secret still rotates")
	}
	// The other device's family was untouched by the logout itself.
	if _, err := svc.Refresh(ctx, phone.RefreshToken, audit.RequestMeta{}); err != nil {
		t.Fatalf("phone refresh after desktop logout: %v", err)
	}

	if err := svc.Logout(ctx, "not-a-jwt", audit.RequestMeta{}); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("garbage logout: want ErrInvalidToken, got %v", err)
	}
}

func TestChangePasswordRevokesEverySession(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	user, regPair := register(t, svc)

	_, phone, err := svc.Login(ctx, "alice@example.com", "s3cretpass", audit.RequestMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrongpass1", "newpass123", audit.RequestMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("wrong current password: want ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "s3cretpass", "newpass123", audit.RequestMeta{}); err != nil {
		t.Fatalf("change password: %v", err)
	}

	// Every outstanding refresh token is dead, across both families.
	for _, secret := range []string{regPair.RefreshToken, phone.RefreshToken} {
		if _, err := svc.Refresh(ctx, secret, audit.RequestMeta{}); err == nil {
			t.Fatal("refresh token survived a password change")
		}
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "s3cretpass", audit.RequestMeta{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "newpass123", audit.RequestMeta{}); err != nil {
		t.Fatalf("new password login: %v", err)
	}

	events, _, err := st.Audit().ListAll(ctx, audit.Filter{Action: audit.ActionPasswordChange}, audit.Page{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want failure + success password change events, got %d", len(events))
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user, pair := register(t, svc)

	got, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated as %s, want %s", got.ID, user.ID)
	}

	// A refresh secret is the wrong token type for API access.
	if _, err := svc.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("refresh-as-access: want ErrInvalidToken, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "garbage"); !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("garbage access: want ErrInvalidToken, got %v", err)
	}
}

func TestRegisterRollsBackUserWhenAuditAppendFails(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	boom := errors.New("boom")
	st.FailNextAppend(boom)
	if _, _, err := svc.Register(ctx, "alice@example.com", "alice", "s3cretpass", audit.RequestMeta{}); !errors.Is(err, boom) {
		t.Fatalf("want append failure to surface, got %v", err)
	}
	if _, err := st.Users().FindByEmail(ctx, "alice@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("user must roll back with its audit row, got %v", err)
	}

	// The same registration succeeds once the append does.
	if _, _, err := svc.Register(ctx, "alice@example.com", "alice", "s3cretpass", audit.RequestMeta{}); err != nil {
		t.Fatalf("retry register: %v", err)
	}
}
