package sharing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"emerald.finance/internal/access"
	"emerald.finance/internal/account"
	"emerald.finance/internal/audit"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/ids"
	"emerald.finance/internal/sharing"
	"emerald.finance/internal/store/memory"
)

type fixture struct {
	store   *memory.Store
	svc     *sharing.Service
	ownerID string
	acctID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	resolver, err := access.NewResolver(st, st.Grants())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	svc := sharing.NewService(st, resolver, audit.NewRecorder())

	f := &fixture{store: st, svc: svc, ownerID: addUser(t, st, "owner@example.com"), acctID: ids.New()}
	now := time.Now().UTC()
	if err := st.Accounts().Create(context.Background(), &account.Account{
		ID:        f.acctID,
		OwnerID:   f.ownerID,
		Name:      "checking",
		Currency:  "USD",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return f
}

func addUser(t *testing.T, st *memory.Store, email string) string {
	t.Helper()
	id := ids.New()
	if err := st.Users().Create(context.Background(), &auth.User{
		ID:       id,
		Email:    email,
		Username: email[:len(email)-len("@example.com")],
	}); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return id
}

func TestShareCreatesGrantAndAuditEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := addUser(t, f.store, "friend@example.com")

	grant, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelEditor, audit.RequestMeta{ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if grant.Level != access.LevelEditor || grant.UserID != target {
		t.Fatalf("unexpected grant %+v", grant)
	}

	events, total, err := f.store.Audit().ListAll(ctx, audit.Filter{EntityType: audit.EntityGrant}, audit.Page{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 1 {
		t.Fatalf("want 1 grant event, got %d", total)
	}
	e := events[0]
	if e.Action != audit.ActionCreate || e.ActorID == nil || *e.ActorID != f.ownerID {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.NewValues["level"] != "editor" || e.NewValues["user_id"] != target {
		t.Fatalf("event new values missing detail: %+v", e.NewValues)
	}
	if e.ClientIP != "10.0.0.1" {
		t.Fatalf("client ip not applied: %q", e.ClientIP)
	}
}

func TestShareRejectsSelfOwnerLevelAndDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := addUser(t, f.store, "friend@example.com")

	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, f.ownerID, access.LevelViewer, audit.RequestMeta{}); !errors.Is(err, sharing.ErrInvalidInput) {
		t.Fatalf("self-share: want ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelOwner, audit.RequestMeta{}); !errors.Is(err, sharing.ErrInvalidInput) {
		t.Fatalf("owner level: want ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, "no-such-user", access.LevelViewer, audit.RequestMeta{}); !errors.Is(err, sharing.ErrInvalidInput) {
		t.Fatalf("unknown user: want ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelViewer, audit.RequestMeta{}); err != nil {
		t.Fatalf("first share: %v", err)
	}
	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelEditor, audit.RequestMeta{}); !errors.Is(err, access.ErrAlreadyExists) {
		t.Fatalf("duplicate share: want ErrAlreadyExists, got %v", err)
	}
}

func TestShareGateDistinguishesEditorFromStranger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	editor := addUser(t, f.store, "editor@example.com")
	stranger := addUser(t, f.store, "stranger@example.com")
	third := addUser(t, f.store, "third@example.com")

	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, editor, access.LevelEditor, audit.RequestMeta{}); err != nil {
		t.Fatalf("share: %v", err)
	}

	// An editor has access, just not enough to manage shares.
	_, err := f.svc.Share(ctx, editor, f.acctID, third, access.LevelViewer, audit.RequestMeta{})
	if !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("editor share: want ErrPermissionDenied, got %v", err)
	}
	if errors.Is(err, access.ErrNotFound) {
		t.Fatalf("editor share must not read as not found")
	}

	// A stranger cannot even learn the account exists.
	_, err = f.svc.Share(ctx, stranger, f.acctID, third, access.LevelViewer, audit.RequestMeta{})
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("stranger share: want ErrNotFound, got %v", err)
	}
}

func TestUpdateShareChangesLevelAndRecordsOldNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := addUser(t, f.store, "friend@example.com")

	grant, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelViewer, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	updated, err := f.svc.UpdateShare(ctx, f.ownerID, grant.ID, access.LevelEditor, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("update share: %v", err)
	}
	if updated.Level != access.LevelEditor {
		t.Fatalf("level not updated: %s", updated.Level)
	}

	events, _, err := f.store.Audit().ListAll(ctx, audit.Filter{Action: audit.ActionUpdate}, audit.Page{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 update event, got %d", len(events))
	}
	if events[0].OldValues["level"] != "viewer" || events[0].NewValues["level"] != "editor" {
		t.Fatalf("old/new levels not recorded: %+v / %+v", events[0].OldValues, events[0].NewValues)
	}

	if _, err := f.svc.UpdateShare(ctx, f.ownerID, grant.ID, access.LevelOwner, audit.RequestMeta{}); !errors.Is(err, sharing.ErrInvalidInput) {
		t.Fatalf("owner level update: want ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.UpdateShare(ctx, target, grant.ID, access.LevelViewer, audit.RequestMeta{}); !errors.Is(err, access.ErrPermissionDenied) {
		t.Fatalf("non-owner update: want ErrPermissionDenied, got %v", err)
	}
}

func TestRevokeShareSoftDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := addUser(t, f.store, "friend@example.com")

	grant, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelEditor, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := f.svc.RevokeShare(ctx, f.ownerID, grant.ID, audit.RequestMeta{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// The row survives for the audit trail but no longer grants access.
	stored, err := f.store.Grants().Find(ctx, grant.ID)
	if err != nil {
		t.Fatalf("find revoked grant: %v", err)
	}
	if stored.RevokedAt == nil {
		t.Fatal("grant not marked revoked")
	}
	resolver, _ := access.NewResolver(f.store, f.store.Grants())
	level, err := resolver.Resolve(ctx, target, f.acctID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if level != access.LevelNone {
		t.Fatalf("revoked grant still resolves to %s", level)
	}

	// A revoked grant reads as gone.
	if err := f.svc.RevokeShare(ctx, f.ownerID, grant.ID, audit.RequestMeta{}); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("double revoke: want ErrNotFound, got %v", err)
	}

	events, _, err := f.store.Audit().ListAll(ctx, audit.Filter{Action: audit.ActionDelete}, audit.Page{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].OldValues["level"] != "editor" {
		t.Fatalf("delete event missing detail: %+v", events)
	}
}

func TestListSharesVisibilityAsymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := addUser(t, f.store, "viewer@example.com")
	editor := addUser(t, f.store, "editor@example.com")
	stranger := addUser(t, f.store, "stranger@example.com")

	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, viewer, access.LevelViewer, audit.RequestMeta{}); err != nil {
		t.Fatalf("share viewer: %v", err)
	}
	if _, err := f.svc.Share(ctx, f.ownerID, f.acctID, editor, access.LevelEditor, audit.RequestMeta{}); err != nil {
		t.Fatalf("share editor: %v", err)
	}

	all, err := f.svc.ListShares(ctx, f.ownerID, f.acctID)
	if err != nil {
		t.Fatalf("owner list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("owner sees %d grants, want 2", len(all))
	}

	mine, err := f.svc.ListShares(ctx, viewer, f.acctID)
	if err != nil {
		t.Fatalf("viewer list: %v", err)
	}
	if len(mine) != 1 || mine[0].UserID != viewer {
		t.Fatalf("viewer sees %+v, want only own grant", mine)
	}

	if _, err := f.svc.ListShares(ctx, stranger, f.acctID); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("stranger list: want ErrNotFound, got %v", err)
	}
}

func TestShareRollsBackGrantWhenAuditAppendFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := addUser(t, f.store, "friend@example.com")

	boom := errors.New("boom")
	f.store.FailNextAppend(boom)

	_, err := f.svc.Share(ctx, f.ownerID, f.acctID, target, access.LevelViewer, audit.RequestMeta{})
	if !errors.Is(err, boom) {
		t.Fatalf("want append failure to surface, got %v", err)
	}
	if _, err := f.store.Grants().FindActive(ctx, f.acctID, target); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("grant must roll back with its audit row, got %v", err)
	}
}
