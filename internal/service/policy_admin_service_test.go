package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// testPolicyAdminEnv sets up a PolicyAdminService over a store seeded with
// the default policy, and the PolicyService it reloads.
func testPolicyAdminEnv(t *testing.T) (*PolicyAdminService, *PolicyService, *mockPolicyStore) {
	t.Helper()

	defaultPolicy := DefaultPolicy()
	for i := range defaultPolicy.Rules {
		defaultPolicy.Rules[i].ID = defaultPolicy.Rules[i].Name
	}
	store := newMockPolicyStore(*defaultPolicy)

	policySvc, err := NewPolicyService(context.Background(), store, testLogger())
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	return NewPolicyAdminService(store, policySvc, testLogger()), policySvc, store
}

func decide(t *testing.T, svc *PolicyService, user string, roles []string, a access.Action, name string) bool {
	t.Helper()
	d, err := svc.Evaluate(context.Background(), policy.Request{
		Catalog:  "hive",
		User:     user,
		Roles:    roles,
		Action:   a,
		Resource: mustName(t, name),
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	return d.Allowed
}

func TestPolicyAdminService_Create(t *testing.T) {
	t.Parallel()

	admin, svc, _ := testPolicyAdminEnv(t)
	ctx := context.Background()

	if decide(t, svc, "etl", nil, access.ActionCreateTable, "staging.load") {
		t.Fatal("create_table allowed before the policy exists")
	}

	created, err := admin.Create(ctx, &policy.Policy{
		Name:        "staging",
		Description: "etl owns staging",
		Rules: []policy.Rule{
			{Name: "etl-creates", Priority: 10, Actions: []string{"create_table"}, Schema: "staging", Condition: `user == "etl"`, Effect: policy.EffectAllow},
		},
	})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	if created.ID == "" || created.Rules[0].ID == "" {
		t.Errorf("Create() did not generate IDs: %+v", created)
	}
	if !created.Enabled {
		t.Error("Create() should enable the policy")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() || created.Rules[0].CreatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}

	// The reload makes the rule effective at once.
	if !decide(t, svc, "etl", nil, access.ActionCreateTable, "staging.load") {
		t.Error("create_table denied after Create()")
	}
}

func TestPolicyAdminService_Create_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  policy.Policy
		wantErr string
	}{
		{name: "empty name", policy: policy.Policy{}, wantErr: "name is required"},
		{
			name: "bad condition",
			policy: policy.Policy{Name: "p", Rules: []policy.Rule{
				{Name: "broken", Actions: []string{"drop_table"}, Condition: "roles.exists(", Effect: policy.EffectDeny},
			}},
			wantErr: "broken",
		},
		{
			name: "unknown action",
			policy: policy.Policy{Name: "p", Rules: []policy.Rule{
				{Name: "typo", Actions: []string{"drop_tabel"}, Effect: policy.EffectDeny},
			}},
			wantErr: "typo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			admin, _, store := testPolicyAdminEnv(t)
			p := tt.policy
			_, err := admin.Create(context.Background(), &p)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Create() error = %v, want containing %q", err, tt.wantErr)
			}
			if got, _ := store.GetAllPolicies(context.Background()); len(got) != 1 {
				t.Errorf("store has %d policies, want only the default", len(got))
			}
		})
	}
}

func TestPolicyAdminService_Update(t *testing.T) {
	t.Parallel()

	admin, svc, _ := testPolicyAdminEnv(t)
	ctx := context.Background()

	created, err := admin.Create(ctx, &policy.Policy{
		Name:  "drops",
		Rules: []policy.Rule{{Name: "no-drops", Priority: 200, Actions: []string{"drop_*"}, Effect: policy.EffectDeny}},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if decide(t, svc, "root", []string{"admin"}, access.ActionDropTable, "s.t") {
		t.Fatal("admin drop allowed despite no-drops rule")
	}

	updated, err := admin.Update(ctx, created.ID, &policy.Policy{
		Name:  "drops",
		Rules: []policy.Rule{{Name: "no-view-drops", Priority: 200, Actions: []string{"drop_view"}, Effect: policy.EffectDeny}},
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.ID != created.ID || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("Update() changed identity: %s/%v, want %s/%v", updated.ID, updated.CreatedAt, created.ID, created.CreatedAt)
	}
	if !decide(t, svc, "root", []string{"admin"}, access.ActionDropTable, "s.t") {
		t.Error("admin drop still denied after Update()")
	}
	if decide(t, svc, "root", []string{"admin"}, access.ActionDropView, "s.v") {
		t.Error("admin view drop allowed after Update()")
	}
}

func TestPolicyAdminService_Update_NotFound(t *testing.T) {
	t.Parallel()

	admin, _, _ := testPolicyAdminEnv(t)
	_, err := admin.Update(context.Background(), "missing", &policy.Policy{Name: "x"})
	if !errors.Is(err, policy.ErrPolicyNotFound) {
		t.Errorf("Update() error = %v, want ErrPolicyNotFound", err)
	}
}

func TestPolicyAdminService_Delete(t *testing.T) {
	t.Parallel()

	admin, svc, _ := testPolicyAdminEnv(t)
	ctx := context.Background()

	created, err := admin.Create(ctx, &policy.Policy{
		Name:  "guests",
		Rules: []policy.Rule{{Name: "guest-select", Actions: []string{"select_from_table"}, Effect: policy.EffectAllow}},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !decide(t, svc, "guest", nil, access.ActionSelectFromTable, "s.t") {
		t.Fatal("guest select denied after Create()")
	}

	if err := admin.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if decide(t, svc, "guest", nil, access.ActionSelectFromTable, "s.t") {
		t.Error("guest select still allowed after Delete()")
	}
	if _, err := admin.Get(ctx, created.ID); !errors.Is(err, policy.ErrPolicyNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrPolicyNotFound", err)
	}
	if err := admin.Delete(ctx, created.ID); !errors.Is(err, policy.ErrPolicyNotFound) {
		t.Errorf("second Delete() error = %v, want ErrPolicyNotFound", err)
	}
}

func TestPolicyAdminService_Delete_DefaultProtected(t *testing.T) {
	t.Parallel()

	admin, _, _ := testPolicyAdminEnv(t)
	err := admin.Delete(context.Background(), DefaultPolicyID)
	if !errors.Is(err, ErrDefaultPolicyDelete) {
		t.Errorf("Delete(default) error = %v, want ErrDefaultPolicyDelete", err)
	}
}

func TestPolicyAdminService_Delete_DefaultNameNotReserved(t *testing.T) {
	t.Parallel()

	admin, _, _ := testPolicyAdminEnv(t)
	ctx := context.Background()

	lookalike, err := admin.Create(ctx, &policy.Policy{
		Name:  DefaultPolicy().Name,
		Rules: []policy.Rule{{Name: "guest-select", Actions: []string{"select_from_table"}, Effect: policy.EffectAllow}},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := admin.Delete(ctx, lookalike.ID); err != nil {
		t.Errorf("Delete(user policy with the default name) error = %v, want nil", err)
	}
	if _, err := admin.Get(ctx, DefaultPolicyID); err != nil {
		t.Errorf("default policy gone after deleting its namesake: %v", err)
	}
}

func TestPolicyAdminService_Import(t *testing.T) {
	t.Parallel()

	admin, svc, store := testPolicyAdminEnv(t)
	ctx := context.Background()

	err := admin.Import(ctx, []policy.Policy{
		{Name: "a", Enabled: true, Rules: []policy.Rule{{Name: "a-select", Actions: []string{"select_from_view"}, Effect: policy.EffectAllow}}},
		{Name: "b", Enabled: true, Rules: []policy.Rule{{Name: "b-props", Actions: []string{"set_catalog_session_property"}, Effect: policy.EffectAllow}}},
	})
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if got, _ := store.GetAllPolicies(ctx); len(got) != 3 {
		t.Errorf("store has %d policies, want 3", len(got))
	}
	if !decide(t, svc, "anyone", nil, access.ActionSelectFromView, "s.v") {
		t.Error("imported rule not effective")
	}
}

func TestPolicyAdminService_Import_AllOrNothing(t *testing.T) {
	t.Parallel()

	admin, _, store := testPolicyAdminEnv(t)
	ctx := context.Background()

	err := admin.Import(ctx, []policy.Policy{
		{Name: "good", Rules: []policy.Rule{{Name: "ok", Actions: []string{"*"}, Effect: policy.EffectAllow}}},
		{Name: "bad", Rules: []policy.Rule{{Name: "broken", Actions: []string{"*"}, Condition: "1 +", Effect: policy.EffectAllow}}},
	})
	if err == nil || !strings.Contains(err.Error(), `"bad"`) {
		t.Fatalf("Import() error = %v, want failure naming policy bad", err)
	}
	if got, _ := store.GetAllPolicies(ctx); len(got) != 1 {
		t.Errorf("store has %d policies after failed import, want 1", len(got))
	}
}
