package audit

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

type fakeStore struct {
	events    []*Event
	appendErr error
}

func (f *fakeStore) Append(ctx context.Context, e *Event) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	cp := *e
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeStore) list(match func(*Event) bool, fl Filter, p Page) ([]*Event, int64) {
	var hits []*Event
	for _, e := range f.events {
		if !match(e) || !fl.Match(e) {
			continue
		}
		hits = append(hits, e)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	total := int64(len(hits))
	if p.Offset >= len(hits) {
		return nil, total
	}
	hits = hits[p.Offset:]
	if len(hits) > p.Limit {
		hits = hits[:p.Limit]
	}
	return hits, total
}

func (f *fakeStore) ListForUser(ctx context.Context, userID string, fl Filter, p Page) ([]*Event, int64, error) {
	hits, total := f.list(func(e *Event) bool {
		return e.ActorID != nil && *e.ActorID == userID
	}, fl, p)
	return hits, total, nil
}

func (f *fakeStore) ListAll(ctx context.Context, fl Filter, p Page) ([]*Event, int64, error) {
	hits, total := f.list(func(*Event) bool { return true }, fl, p)
	return hits, total, nil
}

func testClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecordFillsIdentityAndTimestamp(t *testing.T) {
	st := &fakeStore{}
	rec := NewRecorder(WithClock(testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))))

	actor := "user-1"
	e, err := rec.Record(context.Background(), st, &Event{
		ActorID:    &actor,
		Action:     ActionCreate,
		EntityType: EntityAccount,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("identity not filled: %+v", e)
	}
	if e.Status != StatusSuccess {
		t.Fatalf("default status = %s, want success", e.Status)
	}
	if len(st.events) != 1 {
		t.Fatalf("expected one appended event, got %d", len(st.events))
	}
}

func TestRecordValidation(t *testing.T) {
	st := &fakeStore{}
	rec := NewRecorder()
	ctx := context.Background()

	if _, err := rec.Record(ctx, st, &Event{EntityType: EntityUser}); err == nil {
		t.Fatal("expected error for missing action")
	}
	if _, err := rec.Record(ctx, st, &Event{Action: ActionCreate}); err == nil {
		t.Fatal("expected error for missing entity type")
	}
	if _, err := rec.Record(ctx, st, &Event{Action: ActionCreate, EntityType: EntityUser, Status: StatusFailure}); err == nil {
		t.Fatal("failure event without error message must be rejected")
	}
}

// A failed append fails the operation; audit writes are never best-effort.
func TestRecordPropagatesAppendFailure(t *testing.T) {
	boom := errors.New("disk full")
	st := &fakeStore{appendErr: boom}
	rec := NewRecorder()

	_, err := rec.Record(context.Background(), st, &Event{Action: ActionCreate, EntityType: EntityUser})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped append failure", err)
	}
}

func TestLoginFailureCarriesNoActor(t *testing.T) {
	st := &fakeStore{}
	rec := NewRecorder()

	e, err := rec.Login(context.Background(), st, nil, "alice@example.com", false, RequestMeta{ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if e.ActorID != nil {
		t.Fatal("failed login must not name an actor")
	}
	if e.Action != ActionLoginFailed || e.Status != StatusFailure {
		t.Fatalf("unexpected action/status: %s/%s", e.Action, e.Status)
	}
	if e.Description == "" {
		t.Fatal("attempted email should appear in the description")
	}
	if e.ClientIP != "10.0.0.1" {
		t.Fatalf("request meta not applied: %+v", e)
	}
}

func TestConvenienceWrappersFixEntityType(t *testing.T) {
	st := &fakeStore{}
	rec := NewRecorder()
	ctx := context.Background()
	meta := RequestMeta{}
	userID := "user-1"

	if _, err := rec.Login(ctx, st, &userID, "a@b.c", true, meta); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := rec.Logout(ctx, st, userID, true, "", meta); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := rec.PasswordChange(ctx, st, userID, false, "invalid credentials", meta); err != nil {
		t.Fatalf("PasswordChange: %v", err)
	}
	if _, err := rec.TokenRefresh(ctx, st, &userID, false, "refresh token reuse detected", meta); err != nil {
		t.Fatalf("TokenRefresh: %v", err)
	}

	for _, e := range st.events {
		if e.EntityType != EntityUser {
			t.Fatalf("wrapper event entity = %s, want user", e.EntityType)
		}
	}
	last := st.events[len(st.events)-1]
	if last.Status != StatusFailure || last.ErrorMessage == "" {
		t.Fatalf("failure wrapper did not derive status: %+v", last)
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	st := &fakeStore{}
	rec := NewRecorder(WithClock(testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))))
	ctx := context.Background()
	userID := "user-1"

	for i := 0; i < 5; i++ {
		if _, err := rec.Login(ctx, st, &userID, "a@b.c", true, RequestMeta{}); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}
	if _, err := rec.Logout(ctx, st, userID, true, "", RequestMeta{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	items, total, err := rec.ListForUser(ctx, st, userID, Filter{Action: ActionLogin}, Page{Limit: 2})
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("total=%d len=%d, want 5/2", total, len(items))
	}
	// Newest first.
	if items[0].CreatedAt.Before(items[1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}

	items, total, err = rec.ListAll(ctx, st, Filter{}, Page{Offset: 4, Limit: 10})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if total != 6 || len(items) != 2 {
		t.Fatalf("total=%d len=%d, want 6/2", total, len(items))
	}
}

func TestFilterDateRangeIsClosed(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := &Event{Action: ActionLogin, EntityType: EntityUser, Status: StatusSuccess, CreatedAt: base}

	f := Filter{From: base, To: base}
	if !f.Match(e) {
		t.Fatal("boundary timestamps must match a closed range")
	}
	f = Filter{From: base.Add(time.Second)}
	if f.Match(e) {
		t.Fatal("event before From must not match")
	}
	f = Filter{To: base.Add(-time.Second)}
	if f.Match(e) {
		t.Fatal("event after To must not match")
	}
}
