package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// LearnFromCorrection folds a user's category correction back into stored
// patterns and preferences, then invalidates every cache that could still
// serve the stale category. predicted may be nil when the expense was never
// auto-categorized.
func (e *Engine) LearnFromCorrection(ctx context.Context, expense *model.Expense, correctCategoryID int64, predicted *model.CategorizationResult) *model.LearningResult {
	defer e.collector.Time("learn_from_correction")()

	if expense == nil || !expense.Persisted() {
		return &model.LearningResult{Message: "Expense must be saved before learning from it."}
	}
	if correctCategoryID == 0 {
		return &model.LearningResult{Message: "A category is required to learn from a correction."}
	}
	if cat, err := e.store.GetCategoryByID(ctx, correctCategoryID); err != nil || cat == nil {
		if err != nil && !common.IsNotFound(err) {
			return &model.LearningResult{Message: e.learnFailureMessage(ctx, expense.ID, err)}
		}
		return &model.LearningResult{Message: fmt.Sprintf("Category %d does not exist.", correctCategoryID)}
	}

	result, err := e.learner.LearnFromCorrection(ctx, expense, correctCategoryID, predicted)
	if err != nil {
		return &model.LearningResult{Message: e.learnFailureMessage(ctx, expense.ID, err)}
	}
	if result == nil {
		result = &model.LearningResult{}
	}
	result.Success = true

	// Patterns changed shape, so cached lookups and memoized scores for the
	// affected categories can no longer be trusted. The merchant's preference
	// entry goes too: a cached negative would mask the preference the
	// correction just recorded.
	e.cache.InvalidateCategory(ctx, correctCategoryID)
	if predicted != nil && predicted.CategoryID != nil && *predicted.CategoryID != correctCategoryID {
		e.cache.InvalidateCategory(ctx, *predicted.CategoryID)
	}
	if merchant := expense.MerchantText(); merchant != "" {
		_ = e.cache.Invalidate(ctx, model.UserCategoryPreference{ContextValue: merchant})
	}
	e.matcher.ClearCache()
	e.calculator.ClearCache()
	result.CacheInvalidated = true

	e.logger.Info("learned from correction",
		"expense_id", expense.ID,
		"category_id", correctCategoryID,
		"patterns_updated", len(result.PatternsUpdated),
		"pattern_created", result.PatternCreated != nil,
		"preference_updated", result.PreferenceUpdated)
	return result
}

// learnFailureMessage logs the failure with a correlation id and returns
// only the user-facing part of the translated error.
func (e *Engine) learnFailureMessage(ctx context.Context, expenseID int64, err error) string {
	res := e.failure(ctx, expenseID, "learning", err)
	var uerr *common.UserError
	if errors.As(res.Error, &uerr) {
		return uerr.UserMessage
	}
	return res.Error.Error()
}
