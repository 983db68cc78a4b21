package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/access"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// BenchmarkPolicyEvaluate measures single-threaded evaluation with a warm cache.
func BenchmarkPolicyEvaluate(b *testing.B) {
	svc := newSalesService(b)
	ctx := context.Background()
	req := request("alice", []string{"analyst"}, access.ActionSelectFromTable, mustName(b, "sales.orders"))

	for b.Loop() {
		_, _ = svc.Evaluate(ctx, req)
	}
}

// BenchmarkPolicyEvaluateParallel measures concurrent evaluation against the
// lock-free snapshot.
func BenchmarkPolicyEvaluateParallel(b *testing.B) {
	svc := newSalesService(b)
	req := request("alice", []string{"analyst"}, access.ActionSelectFromTable, mustName(b, "sales.orders"))

	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_, _ = svc.Evaluate(ctx, req)
		}
	})
}

// BenchmarkPolicyEvaluateUncached measures rule matching and CEL evaluation
// with a cache too small to hit.
func BenchmarkPolicyEvaluateUncached(b *testing.B) {
	svc := newSalesService(b, WithCacheSize(1))
	ctx := context.Background()
	reqs := make([]policy.Request, 64)
	for i := range reqs {
		reqs[i] = request(fmt.Sprintf("user-%d", i), []string{"analyst"}, access.ActionSelectFromTable, mustName(b, "sales.orders"))
	}

	i := 0
	for b.Loop() {
		_, _ = svc.Evaluate(ctx, reqs[i%len(reqs)])
		i++
	}
}

// BenchmarkPolicyReload measures recompiling the rule set.
func BenchmarkPolicyReload(b *testing.B) {
	svc := newSalesService(b)
	ctx := context.Background()

	for b.Loop() {
		_ = svc.Reload(ctx)
	}
}

func BenchmarkComputeCacheKey(b *testing.B) {
	req := policy.Request{
		Catalog:     "hive",
		User:        "alice",
		Roles:       []string{"analyst", "reader", "dev"},
		Action:      access.ActionSelectFromTable,
		Operation:   access.ActionSelectFromTable,
		Resource:    access.SchemaTableName{Schema: "sales", Table: "orders"},
		RequestTime: time.Now(),
	}

	for b.Loop() {
		_ = computeCacheKey(req)
	}
}
