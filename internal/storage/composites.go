package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// CreateCompositePattern stores a composite rule and its component links.
// Components must reference already-stored patterns.
func (s *SQLiteStorage) CreateCompositePattern(ctx context.Context, composite *model.CompositePattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateComposite(composite); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createCompositePattern(ctx, tx, composite); err != nil {
		return err
	}
	return tx.Commit()
}

// GetCompositePattern returns a composite rule with its components loaded.
func (s *SQLiteStorage) GetCompositePattern(ctx context.Context, id int64) (*model.CompositePattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return s.getCompositePattern(ctx, s.db, id)
}

// GetActiveCompositePatterns returns every active composite rule with
// components loaded.
func (s *SQLiteStorage) GetActiveCompositePatterns(ctx context.Context) ([]model.CompositePattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveCompositePatterns(ctx, s.db)
}

// DeleteCompositePattern removes a composite rule and its component links.
func (s *SQLiteStorage) DeleteCompositePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return s.deleteCompositePattern(ctx, s.db, id)
}

func (s *SQLiteStorage) createCompositePattern(ctx context.Context, q dbtx, composite *model.CompositePattern) error {
	for i, component := range composite.Components {
		if component.ID == 0 {
			return fmt.Errorf("composite component %d must reference a stored pattern", i)
		}
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, `
		INSERT INTO composite_patterns (name, operator, category_id, confidence, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		composite.Name, string(composite.Operator), composite.CategoryID,
		composite.Confidence, composite.Active, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create composite pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get composite pattern ID: %w", err)
	}

	for i, component := range composite.Components {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO composite_pattern_components (composite_id, pattern_id, position)
			VALUES (?, ?, ?)`,
			id, component.ID, i,
		); err != nil {
			return fmt.Errorf("failed to link composite component %d: %w", component.ID, err)
		}
	}

	composite.ID = id
	composite.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) getCompositePattern(ctx context.Context, q dbtx, id int64) (*model.CompositePattern, error) {
	query := `
		SELECT id, name, operator, category_id, confidence, active, created_at
		FROM composite_patterns
		WHERE id = ?`

	var composite model.CompositePattern
	var operator string
	err := q.QueryRowContext(ctx, query, id).Scan(
		&composite.ID, &composite.Name, &operator, &composite.CategoryID,
		&composite.Confidence, &composite.Active, &composite.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("composite pattern %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query composite pattern: %w", err)
	}
	composite.Operator = model.CompositeOperator(operator)

	components, err := s.getCompositeComponents(ctx, q, composite.ID)
	if err != nil {
		return nil, err
	}
	composite.Components = components

	return &composite, nil
}

func (s *SQLiteStorage) getActiveCompositePatterns(ctx context.Context, q dbtx) ([]model.CompositePattern, error) {
	query := `
		SELECT id, name, operator, category_id, confidence, active, created_at
		FROM composite_patterns
		WHERE active = 1
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query composite patterns: %w", err)
	}
	defer rows.Close()

	var composites []model.CompositePattern
	for rows.Next() {
		var composite model.CompositePattern
		var operator string
		if err := rows.Scan(
			&composite.ID, &composite.Name, &operator, &composite.CategoryID,
			&composite.Confidence, &composite.Active, &composite.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan composite pattern: %w", err)
		}
		composite.Operator = model.CompositeOperator(operator)
		composites = append(composites, composite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite patterns: %w", err)
	}

	for i := range composites {
		components, err := s.getCompositeComponents(ctx, q, composites[i].ID)
		if err != nil {
			return nil, err
		}
		composites[i].Components = components
	}

	return composites, nil
}

func (s *SQLiteStorage) getCompositeComponents(ctx context.Context, q dbtx, compositeID int64) ([]*model.Pattern, error) {
	query := `SELECT` + patternColumns + `
		FROM composite_pattern_components cc
		JOIN patterns p ON p.id = cc.pattern_id
		JOIN categories c ON c.id = p.category_id
		WHERE cc.composite_id = ?
		ORDER BY cc.position, p.id`

	rows, err := q.QueryContext(ctx, query, compositeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query composite components: %w", err)
	}
	defer rows.Close()

	var components []*model.Pattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composite component: %w", err)
		}
		components = append(components, pattern)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite components: %w", err)
	}

	return components, nil
}

func (s *SQLiteStorage) deleteCompositePattern(ctx context.Context, q dbtx, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM composite_patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete composite pattern: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("composite pattern %d: %w", id, common.ErrNotFound)
	}
	return nil
}
