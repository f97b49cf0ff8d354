package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStaleKeysMapping(t *testing.T) {
	cases := []struct {
		mutation Mutation
		want     []string
	}{
		{RoleChanged("r1"), []string{"role:r1:permissions"}},
		{RolePermissionsChanged("r1"), []string{"role:r1:permissions"}},
		{SubjectRoleChanged("u1"), []string{"subject:u1:session"}},
		{TokenRevoked("u1"), []string{"subject:u1:session"}},
		{Mutation{Kind: "unknown"}, nil},
	}
	for _, tc := range cases {
		got := staleKeys(tc.mutation)
		if len(got) != len(tc.want) {
			t.Errorf("staleKeys(%v) = %v, want %v", tc.mutation.Kind, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("staleKeys(%v)[%d] = %q, want %q", tc.mutation.Kind, i, got[i], tc.want[i])
			}
		}
	}
}

func TestApplyMutationEvicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.login(t)

	// Login primed the session descriptor.
	desc, err := env.engine.Session(ctx, "u1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if desc.RoleID != env.role.ID {
		t.Fatalf("descriptor = %+v", desc)
	}

	if err := env.engine.ApplyMutation(ctx, TokenRevoked("u1")); err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if _, err := env.engine.Session(ctx, "u1"); !errors.Is(err, ErrSessionNotCached) {
		t.Fatalf("post-eviction Session error = %v, want ErrSessionNotCached", err)
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	ctx := context.Background()

	sink := NewChannelSink(32)
	env := newTestEnvWith(t, func(b *Builder) *Builder {
		return b.WithAuditSink(sink)
	})

	env.login(t)
	if _, err := env.engine.Authenticate(ctx, "alice@example.com", "wrong"); err == nil {
		t.Fatal("expected failed login")
	}
	env.engine.Close()

	var kinds []AuditKind
	for {
		select {
		case e := <-sink.Events():
			kinds = append(kinds, e.Kind)
			continue
		default:
		}
		break
	}

	want := map[AuditKind]bool{AuditLoginSuccess: false, AuditLoginFailed: false}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("audit stream missing %q (got %v)", k, kinds)
		}
	}
}

func TestAuditCarriesActor(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnvWith(t, func(b *Builder) *Builder {
		return b.WithAuditSink(sink)
	})

	ctx := WithActor(context.Background(), "admin@example.com")
	if _, err := env.engine.CreateRole(ctx, "auditor"); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	env.engine.Close()

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-sink.Events():
			if e.Kind == AuditRoleCreated {
				if e.Actor != "admin@example.com" {
					t.Fatalf("actor = %q", e.Actor)
				}
				return
			}
		case <-deadline:
			t.Fatal("role_created event never arrived")
		}
	}
}
