// Package sqlite provides a SQLite-backed policy store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	enabled     INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rules (
	id          TEXT PRIMARY KEY,
	policy_id   TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	actions     TEXT NOT NULL DEFAULT '[]',
	schema_glob TEXT NOT NULL DEFAULT '',
	table_glob  TEXT NOT NULL DEFAULT '',
	condition   TEXT NOT NULL DEFAULT '',
	effect      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	position    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS rules_policy_id ON rules(policy_id);
`

// PolicyStore implements policy.PolicyStore on a SQLite database.
// database/sql handles concurrent use.
//
// Policies come back by priority, then in the order they were first saved
// (rowid, kept by upserts). Rules come back in declaration order, recorded in
// the position column. Together they decide between equal-priority rules.
type PolicyStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path and applies the
// schema. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*PolicyStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := addPositionColumn(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("sqlite policy store opened", "path", path)
	return &PolicyStore{db: db, logger: logger}, nil
}

// addPositionColumn upgrades rules tables created before rule positions were
// stored. Existing rows keep position 0 and fall back to rowid order.
func addPositionColumn(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('rules') WHERE name = 'position'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect rules table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE rules ADD COLUMN position INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add rules.position: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *PolicyStore) Close() error {
	return s.db.Close()
}

// GetAllPolicies returns all enabled policies with their rules.
func (s *PolicyStore) GetAllPolicies(ctx context.Context) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, priority, enabled, created_at, updated_at
		FROM policies WHERE enabled = 1 ORDER BY priority DESC, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	var policies []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	_ = rows.Close()

	for i := range policies {
		rules, err := s.loadRules(ctx, policies[i].ID)
		if err != nil {
			return nil, err
		}
		policies[i].Rules = rules
	}
	return policies, nil
}

// GetPolicy returns a policy and its rules by ID.
func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, priority, enabled, created_at, updated_at
		FROM policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Rules, err = s.loadRules(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// SavePolicy upserts p and replaces its rules. Missing IDs are generated and
// written back to p.
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policies (id, name, description, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Description, p.Priority, boolToInt(p.Enabled),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", p.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE policy_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear rules of %s: %w", p.ID, err)
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if err := insertRule(ctx, tx, p.ID, r, i); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policy %s: %w", p.ID, err)
	}
	s.logger.Debug("policy saved", "id", p.ID, "rules", len(p.Rules))
	return nil
}

// DeletePolicy removes a policy and its rules.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}
	return requireAffected(res, policy.ErrPolicyNotFound)
}

// SaveRule creates or updates a rule within a policy.
func (s *PolicyStore) SaveRule(ctx context.Context, policyID string, r *policy.Rule) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies WHERE id = ?`, policyID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup policy %s: %w", policyID, err)
	}
	if exists == 0 {
		return policy.ErrPolicyNotFound
	}

	if r.ID != "" {
		actions, err := json.Marshal(r.Actions)
		if err != nil {
			return fmt.Errorf("encode actions: %w", err)
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE rules SET name = ?, description = ?, priority = ?, actions = ?,
				schema_glob = ?, table_glob = ?, condition = ?, effect = ?
			WHERE id = ? AND policy_id = ?`,
			r.Name, r.Description, r.Priority, string(actions),
			r.Schema, r.Table, r.Condition, string(r.Effect), r.ID, policyID)
		if err != nil {
			return fmt.Errorf("update rule %s: %w", r.ID, err)
		}
		return requireAffected(res, policy.ErrRuleNotFound)
	}

	var next int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM rules WHERE policy_id = ?`, policyID).Scan(&next)
	if err != nil {
		return fmt.Errorf("next rule position of %s: %w", policyID, err)
	}

	r.ID = uuid.New().String()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return insertRule(ctx, s.db, policyID, r, next)
}

// DeleteRule removes a rule by ID.
func (s *PolicyStore) DeleteRule(ctx context.Context, policyID, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ? AND policy_id = ?`, ruleID, policyID)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", ruleID, err)
	}
	return requireAffected(res, policy.ErrRuleNotFound)
}

func (s *PolicyStore) loadRules(ctx context.Context, policyID string) ([]policy.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, priority, actions, schema_glob, table_glob, condition, effect, created_at
		FROM rules WHERE policy_id = ? ORDER BY position, rowid`, policyID)
	if err != nil {
		return nil, fmt.Errorf("query rules of %s: %w", policyID, err)
	}
	defer func() { _ = rows.Close() }()

	var rules []policy.Rule
	for rows.Next() {
		var (
			r               policy.Rule
			actions, effect string
			createdAt       string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Priority, &actions,
			&r.Schema, &r.Table, &r.Condition, &effect, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return nil, fmt.Errorf("decode actions of rule %s: %w", r.ID, err)
		}
		r.Effect = policy.Effect(effect)
		r.CreatedAt = parseTime(createdAt)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRule(ctx context.Context, db execer, policyID string, r *policy.Rule, position int) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO rules (id, policy_id, name, description, priority, actions,
			schema_glob, table_glob, condition, effect, created_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, policyID, r.Name, r.Description, r.Priority, string(actions),
		r.Schema, r.Table, r.Condition, string(r.Effect), formatTime(r.CreatedAt), position)
	if err != nil {
		return fmt.Errorf("insert rule %s: %w", r.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*policy.Policy, error) {
	var (
		p                    policy.Policy
		enabled              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Priority, &enabled, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	p.Enabled = enabled != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Compile-time interface verification.
var _ policy.PolicyStore = (*PolicyStore)(nil)
