package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/file"
	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// tiedRules declares deny-orders before allow-sales at the same priority, so
// select on sales.orders is denied only if declaration order survives.
func tiedRules() policy.Policy {
	return policy.Policy{
		Name:    "tied-rules",
		Enabled: true,
		Rules: []policy.Rule{
			{Name: "deny-orders", Actions: []string{"select_from_table"}, Table: "orders", Effect: policy.EffectDeny},
			{Name: "allow-sales", Actions: []string{"select_from_table"}, Schema: "sales", Effect: policy.EffectAllow},
		},
	}
}

// tiedPolicies splits the same two rules over two equal-priority policies.
func tiedPolicies() []policy.Policy {
	rules := tiedRules().Rules
	return []policy.Policy{
		{Name: "deny-orders", Enabled: true, Rules: rules[:1]},
		{Name: "allow-sales", Enabled: true, Rules: rules[1:]},
	}
}

// storeOpener opens a store holding policies; reopen opens the same data
// again, as a new process would.
type storeOpener func(t *testing.T, policies []policy.Policy) (open func() policy.PolicyStore)

func memoryOpener(t *testing.T, policies []policy.Policy) func() policy.PolicyStore {
	store := memory.NewPolicyStore()
	for i := range policies {
		p := policies[i]
		if err := store.SavePolicy(context.Background(), &p); err != nil {
			t.Fatalf("memory SavePolicy() error: %v", err)
		}
	}
	return func() policy.PolicyStore { return store }
}

func sqliteOpener(t *testing.T, policies []policy.Policy) func() policy.PolicyStore {
	path := filepath.Join(t.TempDir(), "policies.db")
	open := func() policy.PolicyStore {
		store, err := sqlite.Open(context.Background(), path, testLogger())
		if err != nil {
			t.Fatalf("sqlite.Open() error: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	}
	store := open()
	for i := range policies {
		p := policies[i]
		if err := store.SavePolicy(context.Background(), &p); err != nil {
			t.Fatalf("sqlite SavePolicy() error: %v", err)
		}
	}
	return open
}

func fileOpener(t *testing.T, policies []policy.Policy) func() policy.PolicyStore {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	var buf bytes.Buffer
	if err := file.Encode(&buf, policies); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return func() policy.PolicyStore {
		store, err := file.Open(context.Background(), path, testLogger())
		if err != nil {
			t.Fatalf("file.Open() error: %v", err)
		}
		return store
	}
}

func TestPolicyService_EqualPriorityParityAcrossStores(t *testing.T) {
	t.Parallel()

	stores := []struct {
		name   string
		opener storeOpener
	}{
		{"memory", memoryOpener},
		{"sqlite", sqliteOpener},
		{"file", fileOpener},
	}
	layouts := []struct {
		name     string
		policies func() []policy.Policy
	}{
		{"one policy", func() []policy.Policy { return []policy.Policy{tiedRules()} }},
		{"two policies", tiedPolicies},
	}

	for _, st := range stores {
		for _, layout := range layouts {
			t.Run(st.name+"/"+layout.name, func(t *testing.T) {
				t.Parallel()

				ctx := context.Background()
				open := st.opener(t, layout.policies())
				alice := access.NewIdentity("alice")
				orders := mustName(t, "sales.orders")

				for i := 0; i < 10; i++ {
					svc, err := NewPolicyService(ctx, open(), testLogger())
					if err != nil {
						t.Fatalf("NewPolicyService() error: %v", err)
					}
					if i%2 == 1 {
						if err := svc.Reload(ctx); err != nil {
							t.Fatalf("Reload() error: %v", err)
						}
					}
					d, err := svc.Evaluate(ctx, request("alice", nil, access.ActionSelectFromTable, orders))
					if err != nil {
						t.Fatalf("Evaluate() error: %v", err)
					}
					if d.Allowed || d.RuleName != "deny-orders" {
						t.Fatalf("open %d: decision = %+v, want denied by deny-orders", i, d)
					}

					// Other sales tables still fall through to allow-sales.
					ac := NewRuleBasedAccessControl("hive", svc)
					if err := ac.CheckCanSelectFromTable(alice, mustName(t, "sales.items")); err != nil {
						t.Fatalf("open %d: select sales.items = %v, want nil", i, err)
					}
				}
			})
		}
	}
}
