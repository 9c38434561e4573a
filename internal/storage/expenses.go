package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

// SaveExpense inserts the expense when it has no ID yet, otherwise updates
// the existing row.
func (s *SQLiteStorage) SaveExpense(ctx context.Context, expense *model.Expense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateExpense(expense); err != nil {
		return err
	}
	return s.saveExpense(ctx, s.db, expense)
}

// GetExpense returns an expense by its identifier.
func (s *SQLiteStorage) GetExpense(ctx context.Context, id int64) (*model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return s.getExpense(ctx, s.db, id)
}

// GetExpenses returns expenses matching the filter, newest first.
func (s *SQLiteStorage) GetExpenses(ctx context.Context, filter service.ExpenseFilter) ([]model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getExpenses(ctx, s.db, filter)
}

// UpdateExpenseCategorization assigns a category and its confidence to an
// already-stored expense.
func (s *SQLiteStorage) UpdateExpenseCategorization(ctx context.Context, expenseID, categoryID int64, confidence float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(expenseID, "expenseID"); err != nil {
		return err
	}
	if err := validateID(categoryID, "categoryID"); err != nil {
		return err
	}
	return s.updateExpenseCategorization(ctx, s.db, expenseID, categoryID, confidence)
}

func (s *SQLiteStorage) saveExpense(ctx context.Context, q dbtx, expense *model.Expense) error {
	now := time.Now().UTC()

	if expense.ID == 0 {
		query := `
			INSERT INTO expenses (
				merchant_name, merchant_normalized, description, amount,
				transaction_date, category_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

		result, err := q.ExecContext(ctx, query,
			expense.MerchantName, expense.MerchantNormalized, expense.Description,
			expense.Amount.String(), expense.TransactionDate,
			nullableID(expense.CategoryID), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get expense ID: %w", err)
		}
		expense.ID = id
		return nil
	}

	query := `
		UPDATE expenses
		SET merchant_name = ?, merchant_normalized = ?, description = ?,
			amount = ?, transaction_date = ?, category_id = ?, updated_at = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, query,
		expense.MerchantName, expense.MerchantNormalized, expense.Description,
		expense.Amount.String(), expense.TransactionDate,
		nullableID(expense.CategoryID), now, expense.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("expense %d: %w", expense.ID, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) getExpense(ctx context.Context, q dbtx, id int64) (*model.Expense, error) {
	query := `
		SELECT id, merchant_name, merchant_normalized, description, amount,
			transaction_date, category_id
		FROM expenses
		WHERE id = ?`

	expense, err := scanExpense(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query expense: %w", err)
	}
	return expense, nil
}

func (s *SQLiteStorage) getExpenses(ctx context.Context, q dbtx, filter service.ExpenseFilter) ([]model.Expense, error) {
	query := `
		SELECT id, merchant_name, merchant_normalized, description, amount,
			transaction_date, category_id
		FROM expenses`
	var conds []string
	var args []any

	if filter.StartDate != nil {
		conds = append(conds, "transaction_date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conds = append(conds, "transaction_date <= ?")
		args = append(args, *filter.EndDate)
	}
	if filter.Uncategorized {
		conds = append(conds, "category_id IS NULL")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY transaction_date DESC, id DESC"
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
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []model.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, *expense)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	return expenses, nil
}

func (s *SQLiteStorage) updateExpenseCategorization(ctx context.Context, q dbtx, expenseID, categoryID int64, confidence float64) error {
	query := `
		UPDATE expenses
		SET category_id = ?, confidence = ?, updated_at = ?
		WHERE id = ?`

	result, err := q.ExecContext(ctx, query, categoryID, confidence, time.Now().UTC(), expenseID)
	if err != nil {
		return fmt.Errorf("failed to update expense categorization: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check categorization update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("expense %d: %w", expenseID, common.ErrNotFound)
	}
	return nil
}

func scanExpense(row rowScanner) (*model.Expense, error) {
	var (
		expense    model.Expense
		amountRaw  string
		categoryID sql.NullInt64
	)
	err := row.Scan(
		&expense.ID, &expense.MerchantName, &expense.MerchantNormalized,
		&expense.Description, &amountRaw, &expense.TransactionDate, &categoryID,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expense amount %q: %w", amountRaw, err)
	}
	expense.Amount = amount

	if categoryID.Valid {
		expense.CategoryID = &categoryID.Int64
	}
	return &expense, nil
}

// nullableID converts an optional foreign key to its SQL representation.
func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
