package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:", true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	})
	return s
}

func mustUser(t *testing.T, s *Store, email, role string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), User{Email: email, HashedPassword: "x", Role: role, IsActive: true})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admin := mustUser(t, s, "admin@example.com", UserRoleAdmin)
	mustUser(t, s, "user@example.com", "")

	got, err := s.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != admin.ID || !got.IsAdmin() {
		t.Fatalf("unexpected user: %+v", got)
	}

	n, err := s.CountAdmins(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count admins: n=%d err=%v", n, err)
	}

	st, err := s.UserStats(ctx)
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if st.Total != 2 || st.Active != 2 || st.Admins != 1 || st.TwoFAEnabled != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	first := "Ada"
	updated, err := s.UpdateUser(ctx, admin.ID, UserUpdate{FirstName: &first})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.FirstName == nil || *updated.FirstName != "Ada" {
		t.Fatalf("first name not updated: %+v", updated.FirstName)
	}

	if err := s.DeleteUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkspaceMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := mustUser(t, s, "owner@example.com", "")
	guest := mustUser(t, s, "guest@example.com", "")

	ws, err := s.CreateWorkspace(ctx, "Team", owner.ID)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	m, err := s.GetMembership(ctx, ws.ID, owner.ID)
	if err != nil {
		t.Fatalf("owner membership: %v", err)
	}
	if m.Role != WorkspaceRoleOwner || !m.HasAccess(WorkspaceRoleMember) {
		t.Fatalf("unexpected owner membership: %+v", m)
	}

	if err := s.UpsertMember(ctx, ws.ID, guest.ID, WorkspaceRoleGuest); err != nil {
		t.Fatalf("add guest: %v", err)
	}
	g, err := s.GetMembership(ctx, ws.ID, guest.ID)
	if err != nil {
		t.Fatalf("guest membership: %v", err)
	}
	if g.HasAccess(WorkspaceRoleMember) {
		t.Fatalf("guest must not have member access")
	}

	list, err := s.ListWorkspacesForUser(ctx, guest.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list workspaces for guest: %v len=%d", err, len(list))
	}

	if err := s.RemoveMember(ctx, ws.ID, guest.ID); err != nil {
		t.Fatalf("remove guest: %v", err)
	}
	if _, err := s.GetMembership(ctx, ws.ID, guest.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected guest removed, got %v", err)
	}
}

func TestListMessagesReturnsNewestInChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "u@example.com", "")
	c, err := s.CreateChat(ctx, "standalone", nil, u.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	contents := []string{"one", "two", "three", "four", "five"}
	for _, content := range contents {
		if _, err := s.InsertMessage(ctx, Message{ChatID: c.ID, SenderID: &u.ID, Content: content}); err != nil {
			t.Fatalf("insert %s: %v", content, err)
		}
	}

	recent, err := s.ListMessages(ctx, c.ID, nil, 3)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	want := []string{"three", "four", "five"}
	for i, m := range recent {
		if m.Content != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], m.Content)
		}
	}

	page2, err := s.ListMessagesPage(ctx, c.ID, 2, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 || page2[0].Content != "two" || page2[1].Content != "three" {
		t.Fatalf("unexpected page 2: %+v", page2)
	}

	total, err := s.CountMessages(ctx, c.ID)
	if err != nil || total != 5 {
		t.Fatalf("count messages: total=%d err=%v", total, err)
	}
}

func TestInsertMessageSenderRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "u@example.com", "")
	c, err := s.CreateChat(ctx, "c", nil, u.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, err := s.InsertMessage(ctx, Message{ChatID: c.ID, SenderID: &u.ID, Content: "x", IsAIResponse: true}); err == nil {
		t.Fatalf("expected assistant message with sender to be rejected")
	}
	if _, err := s.InsertMessage(ctx, Message{ChatID: c.ID, Content: "x"}); err == nil {
		t.Fatalf("expected human message without sender to be rejected")
	}

	ai, err := s.InsertMessage(ctx, Message{ChatID: c.ID, Content: "reply", IsAIResponse: true, Attachments: []string{"http://x/a.png"}})
	if err != nil {
		t.Fatalf("insert assistant: %v", err)
	}
	msgs, err := s.ListMessages(ctx, c.ID, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != ai.ID || msgs[0].SenderID != nil || len(msgs[0].Attachments) != 1 {
		t.Fatalf("unexpected stored assistant message: %+v", msgs)
	}
}

func TestAttachStandaloneChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "u@example.com", "")
	ws, err := s.CreateWorkspace(ctx, "W", u.ID)
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	c, err := s.CreateChat(ctx, "loose", nil, u.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if err := s.AttachChat(ctx, c.ID, ws.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := s.GetStandaloneChat(ctx, u.ID, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected chat to leave standalone list, got %v", err)
	}
	if _, err := s.GetWorkspaceChat(ctx, ws.ID, c.ID); err != nil {
		t.Fatalf("get workspace chat: %v", err)
	}
	if err := s.AttachChat(ctx, c.ID, ws.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second attach should find no standalone chat, got %v", err)
	}
}

func TestProviderInstancesAndBindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertProviderInstance(ctx, ProviderInstance{Name: "local", Type: "vllm", EncParamsJSON: "sealed"}); err != nil {
		t.Fatalf("upsert provider: %v", err)
	}
	if err := s.UpsertBinding(ctx, "default", "local"); err != nil {
		t.Fatalf("upsert binding: %v", err)
	}
	if err := s.UpsertBinding(ctx, "ws-1", "local"); err != nil {
		t.Fatalf("upsert binding: %v", err)
	}

	bindings, err := s.ListBindings(ctx)
	if err != nil || len(bindings) != 2 {
		t.Fatalf("list bindings: %v len=%d", err, len(bindings))
	}

	if err := s.DeleteProviderInstance(ctx, "local"); err != nil {
		t.Fatalf("delete provider: %v", err)
	}
	bindings, err = s.ListBindings(ctx)
	if err != nil || len(bindings) != 0 {
		t.Fatalf("bindings should be dropped with provider: %v len=%d", err, len(bindings))
	}
	if err := s.DeleteProviderInstance(ctx, "local"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.LogAction(ctx, AuditEntry{UserID: "u", Action: "provider.delete", MetaJSON: "not json"}); err != nil {
		t.Fatalf("log action: %v", err)
	}
	n, err := s.CountAuditEntries(ctx, "provider.delete")
	if err != nil || n != 1 {
		t.Fatalf("count audit: n=%d err=%v", n, err)
	}
}

func TestMessagesWithEqualTimestampsKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "u@example.com", "")
	c, err := s.CreateChat(ctx, "c", nil, u.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	frozen := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return frozen })
	want := []string{"m0", "m1", "m2", "m3", "m4"}
	for _, content := range want {
		if _, err := s.InsertMessage(ctx, Message{ChatID: c.ID, SenderID: &u.ID, Content: content}); err != nil {
			t.Fatalf("insert %s: %v", content, err)
		}
	}

	window, err := s.ListMessages(ctx, c.ID, nil, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := contents(window); got != "m2,m3,m4" {
		t.Fatalf("window = %s, want m2,m3,m4", got)
	}

	page, err := s.ListMessagesPage(ctx, c.ID, 2, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if got := contents(page); got != "m1,m2" {
		t.Fatalf("page 2 = %s, want m1,m2", got)
	}
}

func contents(ms []Message) string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Content
	}
	return strings.Join(out, ",")
}
