package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// GetPreference returns the preference for a context, or ErrNotFound.
// Context values are matched case-insensitively on their normalized form.
func (s *SQLiteStorage) GetPreference(ctx context.Context, contextType, contextValue string) (*model.UserCategoryPreference, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(contextType, "contextType"); err != nil {
		return nil, err
	}
	if err := validateString(contextValue, "contextValue"); err != nil {
		return nil, err
	}
	return s.getPreference(ctx, s.db, contextType, contextValue)
}

// GetPreferences returns all stored preferences.
func (s *SQLiteStorage) GetPreferences(ctx context.Context) ([]model.UserCategoryPreference, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPreferences(ctx, s.db)
}

// UpsertPreference inserts the preference or replaces the existing row for
// the same context.
func (s *SQLiteStorage) UpsertPreference(ctx context.Context, pref *model.UserCategoryPreference) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePreference(pref); err != nil {
		return err
	}
	return s.upsertPreference(ctx, s.db, pref)
}

// DeletePreference removes a preference by its identifier.
func (s *SQLiteStorage) DeletePreference(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return s.deletePreference(ctx, s.db, id)
}

func (s *SQLiteStorage) getPreference(ctx context.Context, q dbtx, contextType, contextValue string) (*model.UserCategoryPreference, error) {
	normalized := normalizeContextValue(contextValue)

	query := `
		SELECT id, context_type, context_value, category_id,
			preference_weight, usage_count, created_at, updated_at
		FROM user_category_preferences
		WHERE context_type = ? AND context_value = ?`

	var pref model.UserCategoryPreference
	err := q.QueryRowContext(ctx, query, contextType, normalized).Scan(
		&pref.ID, &pref.ContextType, &pref.ContextValue, &pref.CategoryID,
		&pref.PreferenceWeight, &pref.UsageCount, &pref.CreatedAt, &pref.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preference %s:%s: %w", contextType, normalized, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preference: %w", err)
	}

	return &pref, nil
}

func (s *SQLiteStorage) getPreferences(ctx context.Context, q dbtx) ([]model.UserCategoryPreference, error) {
	query := `
		SELECT id, context_type, context_value, category_id,
			preference_weight, usage_count, created_at, updated_at
		FROM user_category_preferences
		ORDER BY context_type, context_value`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.UserCategoryPreference
	for rows.Next() {
		var pref model.UserCategoryPreference
		if err := rows.Scan(
			&pref.ID, &pref.ContextType, &pref.ContextValue, &pref.CategoryID,
			&pref.PreferenceWeight, &pref.UsageCount, &pref.CreatedAt, &pref.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, pref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preferences: %w", err)
	}

	return prefs, nil
}

func (s *SQLiteStorage) upsertPreference(ctx context.Context, q dbtx, pref *model.UserCategoryPreference) error {
	normalized := normalizeContextValue(pref.ContextValue)
	now := time.Now().UTC()

	query := `
		INSERT INTO user_category_preferences (
			context_type, context_value, category_id,
			preference_weight, usage_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (context_type, context_value) DO UPDATE SET
			category_id = excluded.category_id,
			preference_weight = excluded.preference_weight,
			usage_count = excluded.usage_count,
			updated_at = excluded.updated_at`

	if _, err := q.ExecContext(ctx, query,
		pref.ContextType, normalized, pref.CategoryID,
		pref.PreferenceWeight, pref.UsageCount, now, now,
	); err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}

	// LastInsertId is meaningless after a conflict update, so read the row
	// id back explicitly.
	var id int64
	if err := q.QueryRowContext(ctx,
		`SELECT id FROM user_category_preferences WHERE context_type = ? AND context_value = ?`,
		pref.ContextType, normalized,
	).Scan(&id); err != nil {
		return fmt.Errorf("failed to read back preference ID: %w", err)
	}

	pref.ID = id
	pref.ContextValue = normalized
	pref.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) deletePreference(ctx context.Context, q dbtx, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM user_category_preferences WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("preference %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// normalizeContextValue stores context keys in their canonical lowercase
// form so lookups are case-insensitive.
func normalizeContextValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
