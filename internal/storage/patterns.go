package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

// patternColumns is the shared select list for pattern queries. Every read
// eager-loads the owning category so callers never chase the reference.
const patternColumns = `
	p.id, p.pattern_type, p.pattern_value, p.category_id,
	p.confidence_weight, p.usage_count, p.success_count, p.success_rate,
	p.metadata, p.active, p.user_created, p.created_at, p.updated_at,
	c.id, c.name, c.created_at`

const patternFrom = ` FROM patterns p JOIN categories c ON c.id = p.category_id`

// CreatePattern stores a new pattern and fills its generated fields.
func (s *SQLiteStorage) CreatePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	return s.createPattern(ctx, s.db, pattern)
}

// GetPattern returns a pattern by its identifier.
func (s *SQLiteStorage) GetPattern(ctx context.Context, id int64) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return s.getPattern(ctx, s.db, id)
}

// GetActivePatterns returns every active pattern.
func (s *SQLiteStorage) GetActivePatterns(ctx context.Context) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPatterns(ctx, s.db, service.PatternFilter{ActiveOnly: true})
}

// GetPatternsByCategory returns every pattern assigned to a category,
// active or not.
func (s *SQLiteStorage) GetPatternsByCategory(ctx context.Context, categoryID int64) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(categoryID, "categoryID"); err != nil {
		return nil, err
	}
	return s.getPatterns(ctx, s.db, service.PatternFilter{CategoryID: categoryID})
}

// GetPatterns returns patterns matching the filter.
func (s *SQLiteStorage) GetPatterns(ctx context.Context, filter service.PatternFilter) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPatterns(ctx, s.db, filter)
}

// UpdatePattern overwrites a stored pattern's mutable fields.
func (s *SQLiteStorage) UpdatePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	return s.updatePattern(ctx, s.db, pattern)
}

// RecordPatternUsage increments usage counters and recomputes the stored
// success rate in one statement.
func (s *SQLiteStorage) RecordPatternUsage(ctx context.Context, id int64, success bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return s.recordPatternUsage(ctx, s.db, id, success)
}

// AdjustPatternWeight shifts a pattern's confidence weight by delta,
// clamped to [0.1, 5.0].
func (s *SQLiteStorage) AdjustPatternWeight(ctx context.Context, id int64, delta float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return s.adjustPatternWeight(ctx, s.db, id, delta)
}

// DeletePattern removes a pattern. Composite components referencing it are
// removed by cascade.
func (s *SQLiteStorage) DeletePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return s.deletePattern(ctx, s.db, id)
}

func (s *SQLiteStorage) createPattern(ctx context.Context, q dbtx, pattern *model.Pattern) error {
	metadata, err := json.Marshal(pattern.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern metadata: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO patterns (
			pattern_type, pattern_value, category_id, confidence_weight,
			usage_count, success_count, success_rate, metadata,
			active, user_created, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := q.ExecContext(ctx, query,
		string(pattern.Type), pattern.Value, pattern.CategoryID, pattern.ConfidenceWeight,
		pattern.UsageCount, pattern.SuccessCount, pattern.SuccessRate, string(metadata),
		pattern.Active, pattern.UserCreated, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get pattern ID: %w", err)
	}

	pattern.ID = id
	pattern.CreatedAt = now
	pattern.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) getPattern(ctx context.Context, q dbtx, id int64) (*model.Pattern, error) {
	query := `SELECT` + patternColumns + patternFrom + ` WHERE p.id = ?`

	pattern, err := scanPattern(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern: %w", err)
	}
	return pattern, nil
}

func (s *SQLiteStorage) getPatterns(ctx context.Context, q dbtx, filter service.PatternFilter) ([]model.Pattern, error) {
	query := `SELECT` + patternColumns + patternFrom
	var conds []string
	var args []any

	if filter.Type != "" {
		conds = append(conds, "p.pattern_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.CategoryID != 0 {
		conds = append(conds, "p.category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.ActiveOnly {
		conds = append(conds, "p.active = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	if filter.OrderByUsage {
		query += " ORDER BY p.usage_count DESC, p.id"
	} else {
		query += " ORDER BY p.id"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []model.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, *pattern)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}

	return patterns, nil
}

func (s *SQLiteStorage) updatePattern(ctx context.Context, q dbtx, pattern *model.Pattern) error {
	if err := validateID(pattern.ID, "pattern.ID"); err != nil {
		return err
	}

	metadata, err := json.Marshal(pattern.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern metadata: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE patterns
		SET pattern_type = ?, pattern_value = ?, category_id = ?,
			confidence_weight = ?, usage_count = ?, success_count = ?,
			success_rate = ?, metadata = ?, active = ?, user_created = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, query,
		string(pattern.Type), pattern.Value, pattern.CategoryID,
		pattern.ConfidenceWeight, pattern.UsageCount, pattern.SuccessCount,
		pattern.SuccessRate, string(metadata), pattern.Active, pattern.UserCreated,
		now, pattern.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %d: %w", pattern.ID, common.ErrNotFound)
	}

	pattern.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) recordPatternUsage(ctx context.Context, q dbtx, id int64, success bool) error {
	successDelta := 0
	if success {
		successDelta = 1
	}

	// All right-hand expressions see the pre-update values, so the rate is
	// computed over the incremented counters explicitly.
	query := `
		UPDATE patterns
		SET usage_count = usage_count + 1,
			success_count = success_count + ?,
			success_rate = CAST(success_count + ? AS REAL) / (usage_count + 1),
			updated_at = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, query, successDelta, successDelta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record pattern usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check usage update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) adjustPatternWeight(ctx context.Context, q dbtx, id int64, delta float64) error {
	query := `
		UPDATE patterns
		SET confidence_weight = MIN(MAX(confidence_weight + ?, 0.1), 5.0),
			updated_at = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, query, delta, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to adjust pattern weight: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check weight update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) deletePattern(ctx context.Context, q dbtx, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// rowScanner lets scanPattern serve both QueryRowContext and rows iteration.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*model.Pattern, error) {
	var (
		pattern model.Pattern
		cat     model.Category
		metaRaw string
	)
	err := row.Scan(
		&pattern.ID, &pattern.Type, &pattern.Value, &pattern.CategoryID,
		&pattern.ConfidenceWeight, &pattern.UsageCount, &pattern.SuccessCount, &pattern.SuccessRate,
		&metaRaw, &pattern.Active, &pattern.UserCreated, &pattern.CreatedAt, &pattern.UpdatedAt,
		&cat.ID, &cat.Name, &cat.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if metaRaw != "" && metaRaw != "{}" {
		if err := json.Unmarshal([]byte(metaRaw), &pattern.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pattern metadata: %w", err)
		}
	}
	pattern.Category = &cat
	return &pattern, nil
}
