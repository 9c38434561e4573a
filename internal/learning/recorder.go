// Package learning records user category corrections back into stored
// patterns and preferences. It is the default service.Learner: corrections
// strengthen patterns that agreed with the user, weaken ones that misled
// the original prediction, and pin the merchant to the corrected category.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

// Weight adjustments per correction. Mistakes cost more than confirmations
// earn, so a pattern that keeps misfiring decays faster than it recovers.
const (
	weightBoost   = 0.1
	weightPenalty = 0.15
)

// Recorder is a store-backed Learner. Every correction is applied in a
// single transaction.
type Recorder struct {
	store  service.Store
	logger *slog.Logger
}

// New creates a recorder writing through the given store.
func New(store service.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// LearnFromCorrection applies one user correction. original carries the
// engine's (wrong) prediction when there was one; nil means the expense was
// categorized by hand from scratch.
func (r *Recorder) LearnFromCorrection(ctx context.Context, expense *model.Expense, categoryID int64, original *model.CategorizationResult) (*model.LearningResult, error) {
	if expense == nil {
		return nil, common.ErrNoExpense
	}
	if categoryID == 0 {
		return nil, common.ErrInvalidCategory
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin learning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &model.LearningResult{}

	matched, err := r.strengthen(ctx, tx, expense, categoryID, result)
	if err != nil {
		return nil, err
	}
	if err := r.weaken(ctx, tx, expense, categoryID, original, result); err != nil {
		return nil, err
	}
	if !matched {
		if err := r.createMerchantPattern(ctx, tx, expense, categoryID, result); err != nil {
			return nil, err
		}
	}
	if err := r.recordPreference(ctx, tx, expense, categoryID, result); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit learning transaction: %w", err)
	}

	result.Message = fmt.Sprintf("Recorded correction: %d pattern(s) strengthened, %d weakened.",
		result.WeightsStrengthened, result.WeightsWeakened)
	return result, nil
}

// strengthen rewards every active pattern of the corrected category that
// actually matches the expense. Returns whether any pattern matched, which
// decides whether a new merchant pattern is needed.
func (r *Recorder) strengthen(ctx context.Context, tx service.Tx, expense *model.Expense, categoryID int64, result *model.LearningResult) (bool, error) {
	patterns, err := tx.GetPatternsByCategory(ctx, categoryID)
	if err != nil {
		return false, fmt.Errorf("failed to load category patterns: %w", err)
	}

	matched := false
	for i := range patterns {
		p := &patterns[i]
		if !p.MatchesExpense(expense) {
			continue
		}
		matched = true
		if err := tx.AdjustPatternWeight(ctx, p.ID, weightBoost); err != nil {
			return false, fmt.Errorf("failed to strengthen pattern %d: %w", p.ID, err)
		}
		if err := tx.RecordPatternUsage(ctx, p.ID, true); err != nil {
			return false, fmt.Errorf("failed to record pattern %d success: %w", p.ID, err)
		}
		result.PatternsUpdated = append(result.PatternsUpdated, p.ID)
		result.WeightsStrengthened++
	}
	return matched, nil
}

// weaken penalizes patterns of the originally predicted category that match
// the expense; they are the ones that pulled the prediction the wrong way.
func (r *Recorder) weaken(ctx context.Context, tx service.Tx, expense *model.Expense, categoryID int64, original *model.CategorizationResult, result *model.LearningResult) error {
	if original == nil || original.CategoryID == nil || *original.CategoryID == categoryID {
		return nil
	}

	patterns, err := tx.GetPatternsByCategory(ctx, *original.CategoryID)
	if err != nil {
		return fmt.Errorf("failed to load predicted-category patterns: %w", err)
	}
	for i := range patterns {
		p := &patterns[i]
		if !p.MatchesExpense(expense) {
			continue
		}
		if err := tx.AdjustPatternWeight(ctx, p.ID, -weightPenalty); err != nil {
			return fmt.Errorf("failed to weaken pattern %d: %w", p.ID, err)
		}
		if err := tx.RecordPatternUsage(ctx, p.ID, false); err != nil {
			return fmt.Errorf("failed to record pattern %d failure: %w", p.ID, err)
		}
		result.PatternsUpdated = append(result.PatternsUpdated, p.ID)
		result.WeightsWeakened++
	}
	return nil
}

// createMerchantPattern adds an exact merchant rule so the next expense from
// this merchant matches directly. Skipped when the expense has no merchant.
func (r *Recorder) createMerchantPattern(ctx context.Context, tx service.Tx, expense *model.Expense, categoryID int64, result *model.LearningResult) error {
	merchant := normalizeMerchant(expense.MerchantText())
	if merchant == "" {
		return nil
	}

	pattern := &model.Pattern{
		Type:             model.PatternTypeMerchant,
		Value:            merchant,
		CategoryID:       categoryID,
		ConfidenceWeight: 1.0,
		Active:           true,
		UserCreated:      true,
	}
	if err := tx.CreatePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to create merchant pattern: %w", err)
	}
	// The correction itself is the pattern's first confirmed use.
	if err := tx.RecordPatternUsage(ctx, pattern.ID, true); err != nil {
		return fmt.Errorf("failed to record new pattern usage: %w", err)
	}

	id := pattern.ID
	result.PatternCreated = &id
	r.logger.Info("created merchant pattern from correction",
		"pattern_id", id,
		"merchant", merchant,
		"category_id", categoryID)
	return nil
}

// recordPreference pins the merchant to the corrected category, stacking
// weight on repeat corrections so the preference saturates toward certainty.
func (r *Recorder) recordPreference(ctx context.Context, tx service.Tx, expense *model.Expense, categoryID int64, result *model.LearningResult) error {
	merchant := normalizeMerchant(expense.MerchantText())
	if merchant == "" {
		return nil
	}

	pref, err := tx.GetPreference(ctx, model.PreferenceContextMerchant, merchant)
	if err != nil && !common.IsNotFound(err) {
		return fmt.Errorf("failed to load merchant preference: %w", err)
	}
	if pref == nil {
		pref = &model.UserCategoryPreference{
			ContextType:  model.PreferenceContextMerchant,
			ContextValue: merchant,
		}
	}
	pref.CategoryID = categoryID
	pref.PreferenceWeight++
	pref.UsageCount++

	if err := tx.UpsertPreference(ctx, pref); err != nil {
		return fmt.Errorf("failed to upsert merchant preference: %w", err)
	}
	result.PreferenceUpdated = true
	return nil
}

func normalizeMerchant(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
