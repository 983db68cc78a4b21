// Package file provides a policy store backed by a YAML rules file.
package file

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/catalogguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

// PolicyStore serves policies from memory and rewrites the rules file after
// every mutation. Writes are atomic (write-tmp-then-rename) and serialized by
// an in-process mutex plus a flock on path+".lock".
type PolicyStore struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex // serializes mutations and file writes
	inner *memory.MemoryPolicyStore
}

// Open loads the rules file at path. A missing file yields an empty store that
// is created on the first write. Policies and rules written without an id get
// one derived from their position and name, so the same file loads with the
// same IDs every time.
func Open(ctx context.Context, path string, logger *slog.Logger) (*PolicyStore, error) {
	s := &PolicyStore{
		path:   path,
		logger: logger,
		inner:  memory.NewPolicyStore(),
	}

	policies, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		logger.Info("rules file not found, starting empty", "path", path)
	}
	for i := range policies {
		assignLoadIDs(i, &policies[i])
		if err := s.inner.SavePolicy(ctx, &policies[i]); err != nil {
			return nil, fmt.Errorf("load policy %q: %w", policies[i].Name, err)
		}
	}

	logger.Debug("rules file loaded", "path", path, "policies", len(policies))
	return s, nil
}

func assignLoadIDs(index int, p *policy.Policy) {
	if p.ID == "" {
		p.ID = loadID("policy", strconv.Itoa(index), p.Name)
	}
	for j := range p.Rules {
		if p.Rules[j].ID == "" {
			p.Rules[j].ID = loadID("rule", p.ID, strconv.Itoa(j), p.Rules[j].Name)
		}
	}
}

// loadID returns a UUIDv5 over the length-prefixed parts.
func loadID(parts ...string) string {
	var name []byte
	for _, part := range parts {
		name = strconv.AppendInt(name, int64(len(part)), 10)
		name = append(name, ':')
		name = append(name, part...)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, append([]byte("catalog-guard-file:"), name...)).String()
}

// Load reads and decodes the rules file at path. The returned error satisfies
// os.IsNotExist when the file is missing.
func Load(path string) ([]policy.Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	policies, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policies, nil
}

// GetAllPolicies returns all enabled policies with their rules.
func (s *PolicyStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	return s.inner.GetAllPolicies(ctx)
}

// GetPolicy returns a policy by ID.
func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	return s.inner.GetPolicy(ctx, id)
}

// SavePolicy creates or updates a policy and persists the file.
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	return s.mutate(func() error { return s.inner.SavePolicy(ctx, p) })
}

// DeletePolicy removes a policy and persists the file.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	return s.mutate(func() error { return s.inner.DeletePolicy(ctx, id) })
}

// SaveRule creates or updates a rule and persists the file.
func (s *PolicyStore) SaveRule(ctx context.Context, policyID string, r *policy.Rule) error {
	return s.mutate(func() error { return s.inner.SaveRule(ctx, policyID, r) })
}

// DeleteRule removes a rule and persists the file.
func (s *PolicyStore) DeleteRule(ctx context.Context, policyID, ruleID string) error {
	return s.mutate(func() error { return s.inner.DeleteRule(ctx, policyID, ruleID) })
}

func (s *PolicyStore) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(); err != nil {
		return err
	}
	return s.persist()
}

// persist writes all policies to disk. Callers hold s.mu.
//
// The write sequence is:
//  1. Acquire flock on path+".lock"
//  2. Encode policies as YAML
//  3. Write to path+".tmp", fsync
//  4. Rename path+".tmp" -> path
func (s *PolicyStore) persist() error {
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	var buf bytes.Buffer
	if err := Encode(&buf, s.inner.All()); err != nil {
		return err
	}
	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return err
	}

	s.logger.Debug("rules file saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// path. On any error the temp file is removed.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to rules file: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ policy.PolicyStore = (*PolicyStore)(nil)
