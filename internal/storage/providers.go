package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// UpsertProviderInstance stores a named provider. Params are expected to be sealed already.
func (s *Store) UpsertProviderInstance(ctx context.Context, p ProviderInstance) error {
	if p.EncParamsJSON == "" {
		return fmt.Errorf("upsert provider: sealed params are empty")
	}
	q := s.sql.Insert("provider_instances").
		Columns("name", "type", "enc_params_json", "created_at").
		Values(p.Name, p.Type, p.EncParamsJSON, s.now()).
		Suffix("ON CONFLICT(name) DO UPDATE SET type=excluded.type, enc_params_json=excluded.enc_params_json")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build provider upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

func (s *Store) ListProviderInstances(ctx context.Context) ([]ProviderInstance, error) {
	q := s.sql.Select("name", "type", "enc_params_json", "created_at").
		From("provider_instances").
		OrderBy("created_at ASC", "name ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list providers query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	out := make([]ProviderInstance, 0)
	for rows.Next() {
		var p ProviderInstance
		if err := rows.Scan(&p.Name, &p.Type, &p.EncParamsJSON, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider rows: %w", err)
	}
	return out, nil
}

// DeleteProviderInstance removes the provider and every binding that points at it.
func (s *Store) DeleteProviderInstance(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete provider: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bindSQL, bindArgs, err := s.sql.Delete("workspace_providers").Where(sq.Eq{"provider_name": name}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete bindings query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bindSQL, bindArgs...); err != nil {
		return fmt.Errorf("delete provider bindings: %w", err)
	}

	sqlStr, args, err := s.sql.Delete("provider_instances").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete provider query: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) UpsertBinding(ctx context.Context, workspaceKey, providerName string) error {
	q := s.sql.Insert("workspace_providers").
		Columns("workspace_key", "provider_name", "updated_at").
		Values(workspaceKey, providerName, s.now()).
		Suffix("ON CONFLICT(workspace_key) DO UPDATE SET provider_name=excluded.provider_name, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build binding upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *Store) DeleteBinding(ctx context.Context, workspaceKey string) error {
	return s.execAffecting(ctx, s.sql.Delete("workspace_providers").Where(sq.Eq{"workspace_key": workspaceKey}), "delete binding")
}

func (s *Store) ListBindings(ctx context.Context) ([]ProviderBinding, error) {
	sqlStr, args, err := s.sql.Select("workspace_key", "provider_name", "updated_at").
		From("workspace_providers").
		OrderBy("workspace_key ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bindings query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	out := make([]ProviderBinding, 0)
	for rows.Next() {
		var b ProviderBinding
		if err := rows.Scan(&b.WorkspaceKey, &b.ProviderName, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan binding row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate binding rows: %w", err)
	}
	return out, nil
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" || !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("user_id", "action", "meta_json", "created_at").
		Values(e.UserID, e.Action, e.MetaJSON, s.now())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) CountAuditEntries(ctx context.Context, action string) (int64, error) {
	return s.count(ctx, "audit_log", sq.Eq{"action": action})
}
