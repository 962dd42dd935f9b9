package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// ErrNotFound is returned when a script id does not exist for the tenant.
var ErrNotFound = errors.New("script not found")

// timeFormat is how timestamps are stored. RFC 3339 with nanoseconds sorts
// lexically, which the deterministic ORDER BY below relies on.
const timeFormat = time.RFC3339Nano

// scriptColumns is the canonical column list shared by every read query.
const scriptColumns = `id, tenant_id, trigger_point, script_content, description,
	sequence_order, active, created_at, updated_at, original_prompt`

// CreateScript inserts a script record. The caller (the scripts service)
// assigns the id and timestamps.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) CreateScript(ctx context.Context, sc rules.LogicScript) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logic_scripts
		(id, tenant_id, trigger_point, script_content, description, sequence_order, active, created_at, updated_at, original_prompt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sc.ID,
		sc.TenantID,
		string(sc.Trigger),
		sc.Expression,
		sc.Description,
		sc.SequenceOrder,
		boolToInt(sc.Active),
		sc.CreatedAt.UTC().Format(timeFormat),
		sc.UpdatedAt.UTC().Format(timeFormat),
		sc.OriginalPrompt,
	)
	if err != nil {
		return fmt.Errorf("create script: %w", err)
	}
	return nil
}

// UpdateScript replaces the mutable fields of an existing script.
// The id, tenant, and created_at never change.
func (s *Store) UpdateScript(ctx context.Context, sc rules.LogicScript) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE logic_scripts
		SET trigger_point = ?, script_content = ?, description = ?,
		    sequence_order = ?, active = ?, updated_at = ?, original_prompt = ?
		WHERE id = ? AND tenant_id = ?
	`,
		string(sc.Trigger),
		sc.Expression,
		sc.Description,
		sc.SequenceOrder,
		boolToInt(sc.Active),
		sc.UpdatedAt.UTC().Format(timeFormat),
		sc.OriginalPrompt,
		sc.ID,
		sc.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update script: %w", err)
	}
	return requireRow(res, "update script")
}

// SetScriptActive flips the active flag. Inactive scripts are never executed.
func (s *Store) SetScriptActive(ctx context.Context, tenantID, id string, active bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE logic_scripts SET active = ?, updated_at = ? WHERE id = ? AND tenant_id = ?
	`, boolToInt(active), now.UTC().Format(timeFormat), id, tenantID)
	if err != nil {
		return fmt.Errorf("set script active: %w", err)
	}
	return requireRow(res, "set script active")
}

// DeleteScript removes a script.
func (s *Store) DeleteScript(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM logic_scripts WHERE id = ? AND tenant_id = ?
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	return requireRow(res, "delete script")
}

// ReorderScripts rewrites sequence_order for a trigger point: the position of
// each id in orderedIDs becomes its new sequence_order. Runs in a single
// transaction so an evaluation never observes a half-applied reorder.
// IDs belonging to a different tenant or trigger are rejected.
func (s *Store) ReorderScripts(ctx context.Context, tenantID string, tp rules.TriggerPoint, orderedIDs []string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reorder scripts: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stamp := now.UTC().Format(timeFormat)
	for i, id := range orderedIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE logic_scripts SET sequence_order = ?, updated_at = ?
			WHERE id = ? AND tenant_id = ? AND trigger_point = ?
		`, i, stamp, id, tenantID, string(tp))
		if err != nil {
			return fmt.Errorf("reorder scripts: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reorder scripts: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("reorder scripts: %w: %s", ErrNotFound, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reorder scripts: commit: %w", err)
	}
	return nil
}

// GetScript returns one script by id, scoped to the tenant.
func (s *Store) GetScript(ctx context.Context, tenantID, id string) (rules.LogicScript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scriptColumns+`
		FROM logic_scripts
		WHERE id = ? AND tenant_id = ?
	`, id, tenantID)

	sc, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.LogicScript{}, ErrNotFound
	}
	if err != nil {
		return rules.LogicScript{}, fmt.Errorf("get script: %w", err)
	}
	return sc, nil
}

// ListScripts returns every script for a tenant, active or not, in
// evaluation order. Used by the authoring surfaces.
func (s *Store) ListScripts(ctx context.Context, tenantID string) ([]rules.LogicScript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scriptColumns+`
		FROM logic_scripts
		WHERE tenant_id = ?
		ORDER BY trigger_point ASC, sequence_order ASC, created_at ASC, id COLLATE BINARY ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	return collectScripts(rows)
}

// ActiveScriptsByTrigger returns the tenant's active scripts grouped by
// trigger point, each list in evaluation order.
//
// Ordering is deterministic: sequence_order ASC, created_at ASC, id ASC.
// Sequence-order collisions are not prevented by the schema; the tie-break
// makes their behavior repeatable here, but callers must not rely on it.
func (s *Store) ActiveScriptsByTrigger(ctx context.Context, tenantID string) (rules.ScriptSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scriptColumns+`
		FROM logic_scripts
		WHERE tenant_id = ? AND active = 1
		ORDER BY sequence_order ASC, created_at ASC, id COLLATE BINARY ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("active scripts: %w", err)
	}
	defer rows.Close()

	scripts, err := collectScripts(rows)
	if err != nil {
		return nil, fmt.Errorf("active scripts: %w", err)
	}

	set := make(rules.ScriptSet)
	for _, sc := range scripts {
		set[sc.Trigger] = append(set[sc.Trigger], sc)
	}
	return set, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanScript.
type scanner interface {
	Scan(dest ...any) error
}

func scanScript(row scanner) (rules.LogicScript, error) {
	var (
		sc        rules.LogicScript
		trigger   string
		active    int
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&sc.ID,
		&sc.TenantID,
		&trigger,
		&sc.Expression,
		&sc.Description,
		&sc.SequenceOrder,
		&active,
		&createdAt,
		&updatedAt,
		&sc.OriginalPrompt,
	)
	if err != nil {
		return rules.LogicScript{}, err
	}

	sc.Trigger = rules.TriggerPoint(trigger)
	sc.Active = active != 0
	if sc.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return rules.LogicScript{}, fmt.Errorf("parse created_at: %w", err)
	}
	if sc.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return rules.LogicScript{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return sc, nil
}

func collectScripts(rows *sql.Rows) ([]rules.LogicScript, error) {
	var scripts []rules.LogicScript
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scripts: %w", err)
	}
	// Return empty slice instead of nil
	if scripts == nil {
		scripts = []rules.LogicScript{}
	}
	return scripts, nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
