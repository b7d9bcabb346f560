package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/platform/community"
	"github.com/rolesync/rolesync/internal/reconcile"
)

// ---------- Mocks ----------

type mockCommunity struct {
	members map[string]*community.Member
	roles   map[string]bool

	addCalls    int
	removeCalls int
	dms         []string

	mutateErr error
}

func newMockCommunity() *mockCommunity {
	return &mockCommunity{
		members: make(map[string]*community.Member),
		roles:   map[string]bool{"role_premium": true},
	}
}

func (m *mockCommunity) Member(_ context.Context, memberID string) (*community.Member, error) {
	member, ok := m.members[memberID]
	if !ok {
		return nil, community.ErrMemberNotFound
	}
	return member, nil
}

func (m *mockCommunity) RoleExists(_ context.Context, roleID string) (bool, error) {
	return m.roles[roleID], nil
}

func (m *mockCommunity) AddMemberRole(_ context.Context, memberID, roleID string) error {
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.addCalls++
	member := m.members[memberID]
	member.RoleIDs = append(member.RoleIDs, roleID)
	return nil
}

func (m *mockCommunity) RemoveMemberRole(_ context.Context, memberID, roleID string) error {
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.removeCalls++
	member := m.members[memberID]
	kept := member.RoleIDs[:0]
	for _, id := range member.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	member.RoleIDs = kept
	return nil
}

func (m *mockCommunity) DirectMessage(_ context.Context, memberID, _ string) error {
	m.dms = append(m.dms, memberID)
	return nil
}

func (m *mockCommunity) Ready(context.Context) error { return nil }

// ---------- Tests ----------

func TestGrantIsIdempotent(t *testing.T) {
	client := newMockCommunity()
	client.members["M1"] = &community.Member{ID: "M1"}
	r := reconcile.NewRoleReconciler(client, "role_premium")
	ctx := context.Background()

	outcome, err := r.Grant(ctx, "M1")
	if err != nil || outcome != reconcile.Granted {
		t.Fatalf("first grant = %s, %v; want granted", outcome, err)
	}

	outcome, err = r.Grant(ctx, "M1")
	if err != nil || outcome != reconcile.AlreadyGranted {
		t.Fatalf("second grant = %s, %v; want already-granted", outcome, err)
	}

	if client.addCalls != 1 {
		t.Fatalf("role added %d times; want exactly once", client.addCalls)
	}
}

func TestRevokeIsIdempotentAndNotifiesOnce(t *testing.T) {
	client := newMockCommunity()
	client.members["M2"] = &community.Member{ID: "M2", RoleIDs: []string{"role_premium"}}
	r := reconcile.NewRoleReconciler(client, "role_premium")
	ctx := context.Background()

	outcome, err := r.Revoke(ctx, "M2")
	if err != nil || outcome != reconcile.Revoked {
		t.Fatalf("first revoke = %s, %v; want revoked", outcome, err)
	}

	outcome, err = r.Revoke(ctx, "M2")
	if err != nil || outcome != reconcile.AlreadyAbsent {
		t.Fatalf("second revoke = %s, %v; want already-absent", outcome, err)
	}

	if client.removeCalls != 1 {
		t.Fatalf("role removed %d times; want exactly once", client.removeCalls)
	}
	if len(client.dms) != 1 || client.dms[0] != "M2" {
		t.Fatalf("notification attempted %v; want exactly one to M2", client.dms)
	}
}

func TestMissingMemberIsTerminal(t *testing.T) {
	client := newMockCommunity()
	r := reconcile.NewRoleReconciler(client, "role_premium")

	if _, err := r.Grant(context.Background(), "ghost"); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("grant err = %v; want ErrMemberNotFound", err)
	}
	if _, err := r.Revoke(context.Background(), "ghost"); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Fatalf("revoke err = %v; want ErrMemberNotFound", err)
	}
}

func TestMissingRoleIsTerminal(t *testing.T) {
	client := newMockCommunity()
	client.members["M1"] = &community.Member{ID: "M1"}
	r := reconcile.NewRoleReconciler(client, "role_gone")

	if _, err := r.Grant(context.Background(), "M1"); !errors.Is(err, domain.ErrRoleNotFound) {
		t.Fatalf("grant err = %v; want ErrRoleNotFound", err)
	}
}

func TestGrantSurfacesTransportErrors(t *testing.T) {
	client := newMockCommunity()
	client.members["M1"] = &community.Member{ID: "M1"}
	client.mutateErr = errors.New("gateway 502")
	r := reconcile.NewRoleReconciler(client, "role_premium")

	_, err := r.Grant(context.Background(), "M1")
	if err == nil || errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrRoleNotFound) {
		t.Fatalf("err = %v; want plain transport error", err)
	}
}
