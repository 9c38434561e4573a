package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// GetCategories returns all categories ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCategories(ctx, s.db)
}

// GetCategoryByID returns a category by its identifier.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return s.getCategoryByID(ctx, s.db, id)
}

// GetCategoryByName returns a category by its exact name.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return s.getCategoryByName(ctx, s.db, name)
}

// CreateCategory creates a category, returning the existing row when the
// name is already taken.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return s.createCategory(ctx, s.db, name)
}

func (s *SQLiteStorage) getCategories(ctx context.Context, q dbtx) ([]model.Category, error) {
	query := `
		SELECT id, name, created_at
		FROM categories
		ORDER BY name`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var cat model.Category
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, cat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return categories, nil
}

func (s *SQLiteStorage) getCategoryByID(ctx context.Context, q dbtx, id int64) (*model.Category, error) {
	query := `
		SELECT id, name, created_at
		FROM categories
		WHERE id = ?`

	var cat model.Category
	err := q.QueryRowContext(ctx, query, id).Scan(&cat.ID, &cat.Name, &cat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}

	return &cat, nil
}

func (s *SQLiteStorage) getCategoryByName(ctx context.Context, q dbtx, name string) (*model.Category, error) {
	query := `
		SELECT id, name, created_at
		FROM categories
		WHERE name = ?`

	var cat model.Category
	err := q.QueryRowContext(ctx, query, name).Scan(&cat.ID, &cat.Name, &cat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}

	return &cat, nil
}

func (s *SQLiteStorage) createCategory(ctx context.Context, q dbtx, name string) (*model.Category, error) {
	existing, err := s.getCategoryByName(ctx, q, name)
	if err == nil {
		return existing, nil
	}
	if !common.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx,
		`INSERT INTO categories (name, created_at) VALUES (?, ?)`,
		name, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	slog.Info("created category", "name", name, "id", id)
	return &model.Category{
		ID:        id,
		Name:      name,
		CreatedAt: now,
	}, nil
}
