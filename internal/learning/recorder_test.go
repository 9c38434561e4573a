package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
	"github.com/esoto/expense-tracker-sub002/internal/testutil"
)

func TestLearnCreatesMerchantPatternWhenNothingMatched(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	expense := db.MustSaveExpense(model.Expense{MerchantName: "Blue Bottle Coffee"})

	result, err := rec.LearnFromCorrection(ctx, expense, db.CategoryID("Dining"), nil)
	require.NoError(t, err)
	require.NotNil(t, result.PatternCreated)
	assert.Equal(t, 0, result.WeightsStrengthened)
	assert.Equal(t, 0, result.WeightsWeakened)
	assert.True(t, result.PreferenceUpdated)
	assert.Equal(t, "Recorded correction: 0 pattern(s) strengthened, 0 weakened.", result.Message)

	pattern, err := db.Store.GetPattern(ctx, *result.PatternCreated)
	require.NoError(t, err)
	assert.Equal(t, model.PatternTypeMerchant, pattern.Type)
	assert.Equal(t, "blue bottle coffee", pattern.Value)
	assert.Equal(t, db.CategoryID("Dining"), pattern.CategoryID)
	assert.True(t, pattern.UserCreated)
	assert.True(t, pattern.Active)
	assert.Equal(t, 1, pattern.UsageCount)
	assert.Equal(t, 1, pattern.SuccessCount)
	assert.InDelta(t, 1.0, pattern.SuccessRate, 1e-9)

	pref, err := db.Store.GetPreference(ctx, model.PreferenceContextMerchant, "blue bottle coffee")
	require.NoError(t, err)
	assert.Equal(t, db.CategoryID("Dining"), pref.CategoryID)
	assert.InDelta(t, 1.0, pref.PreferenceWeight, 1e-9)
	assert.Equal(t, 1, pref.UsageCount)
}

func TestLearnStrengthensMatchingPatterns(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	pattern := db.MustCreatePattern(model.Pattern{
		Type:       model.PatternTypeMerchant,
		Value:      "starbucks",
		CategoryID: db.CategoryID("Dining"),
		Active:     true,
	})
	expense := db.MustSaveExpense(model.Expense{MerchantName: "STARBUCKS COFFEE #123"})

	result, err := rec.LearnFromCorrection(ctx, expense, db.CategoryID("Dining"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.WeightsStrengthened)
	assert.Equal(t, 0, result.WeightsWeakened)
	assert.Nil(t, result.PatternCreated, "matching the existing pattern should not create a new one")
	assert.Contains(t, result.PatternsUpdated, pattern.ID)

	updated, err := db.Store.GetPattern(ctx, pattern.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0+weightBoost, updated.ConfidenceWeight, 1e-9)
	assert.Equal(t, 1, updated.UsageCount)
	assert.Equal(t, 1, updated.SuccessCount)
}

func TestLearnWeakensMisfiredPrediction(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining", "Coffee")
	rec := New(db.Store, nil)
	ctx := context.Background()

	dining := db.MustCreatePattern(model.Pattern{
		Type:       model.PatternTypeMerchant,
		Value:      "starbucks",
		CategoryID: db.CategoryID("Dining"),
		Active:     true,
	})
	coffee := db.MustCreatePattern(model.Pattern{
		Type:       model.PatternTypeKeyword,
		Value:      "coffee",
		CategoryID: db.CategoryID("Coffee"),
		Active:     true,
	})
	expense := db.MustSaveExpense(model.Expense{MerchantName: "STARBUCKS COFFEE #123"})

	predicted := db.CategoryID("Coffee")
	original := &model.CategorizationResult{
		ExpenseID:  expense.ID,
		CategoryID: &predicted,
		Method:     model.MethodPattern,
	}

	result, err := rec.LearnFromCorrection(ctx, expense, db.CategoryID("Dining"), original)
	require.NoError(t, err)
	assert.Equal(t, 1, result.WeightsStrengthened)
	assert.Equal(t, 1, result.WeightsWeakened)
	assert.Nil(t, result.PatternCreated)
	assert.Equal(t, "Recorded correction: 1 pattern(s) strengthened, 1 weakened.", result.Message)

	strengthened, err := db.Store.GetPattern(ctx, dining.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0+weightBoost, strengthened.ConfidenceWeight, 1e-9)
	assert.Equal(t, 1, strengthened.SuccessCount)

	weakened, err := db.Store.GetPattern(ctx, coffee.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0-weightPenalty, weakened.ConfidenceWeight, 1e-9)
	assert.Equal(t, 1, weakened.UsageCount)
	assert.Equal(t, 0, weakened.SuccessCount)
	assert.InDelta(t, 0.0, weakened.SuccessRate, 1e-9)
}

func TestLearnTreatsSameCategoryAsConfirmation(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	db.MustCreatePattern(model.Pattern{
		Type:       model.PatternTypeMerchant,
		Value:      "starbucks",
		CategoryID: db.CategoryID("Dining"),
		Active:     true,
	})
	expense := db.MustSaveExpense(model.Expense{MerchantName: "Starbucks"})

	predicted := db.CategoryID("Dining")
	original := &model.CategorizationResult{
		ExpenseID:  expense.ID,
		CategoryID: &predicted,
		Method:     model.MethodPattern,
	}

	result, err := rec.LearnFromCorrection(ctx, expense, db.CategoryID("Dining"), original)
	require.NoError(t, err)
	assert.Equal(t, 1, result.WeightsStrengthened)
	assert.Equal(t, 0, result.WeightsWeakened, "confirming the prediction should weaken nothing")
}

func TestLearnIgnoresInactivePatterns(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	dormant := db.MustCreatePattern(model.Pattern{
		Type:       model.PatternTypeMerchant,
		Value:      "starbucks",
		CategoryID: db.CategoryID("Dining"),
		Active:     false,
	})
	expense := db.MustSaveExpense(model.Expense{MerchantName: "Starbucks"})

	result, err := rec.LearnFromCorrection(ctx, expense, db.CategoryID("Dining"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.WeightsStrengthened)
	require.NotNil(t, result.PatternCreated, "inactive patterns do not count as matches")
	assert.NotEqual(t, dormant.ID, *result.PatternCreated)

	untouched, err := db.Store.GetPattern(ctx, dormant.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, untouched.ConfidenceWeight, 1e-9)
	assert.Equal(t, 0, untouched.UsageCount)
}

func TestLearnUpdatesExistingPreference(t *testing.T) {
	db := testutil.SetupTestDB(t, "Groceries", "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	err := db.Store.UpsertPreference(ctx, &model.UserCategoryPreference{
		ContextType:      model.PreferenceContextMerchant,
		ContextValue:     "trader joe's",
		CategoryID:       db.CategoryID("Groceries"),
		PreferenceWeight: 1.0,
		UsageCount:       3,
	})
	require.NoError(t, err)

	expense := db.MustSaveExpense(model.Expense{MerchantName: "Trader Joe's"})

	result, err := rec.LearnFromCorrection(ctx, expense, db.CategoryID("Dining"), nil)
	require.NoError(t, err)
	assert.True(t, result.PreferenceUpdated)

	pref, err := db.Store.GetPreference(ctx, model.PreferenceContextMerchant, "trader joe's")
	require.NoError(t, err)
	assert.Equal(t, db.CategoryID("Dining"), pref.CategoryID, "correction should repoint the preference")
	assert.InDelta(t, 2.0, pref.PreferenceWeight, 1e-9)
	assert.Equal(t, 4, pref.UsageCount)
}

func TestLearnValidatesInput(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	_, err := rec.LearnFromCorrection(ctx, nil, db.CategoryID("Dining"), nil)
	assert.ErrorIs(t, err, common.ErrNoExpense)

	expense := db.MustSaveExpense(model.Expense{MerchantName: "Somewhere"})
	_, err = rec.LearnFromCorrection(ctx, expense, 0, nil)
	assert.ErrorIs(t, err, common.ErrInvalidCategory)
}

func TestLearnRollsBackOnFailure(t *testing.T) {
	db := testutil.SetupTestDB(t, "Dining")
	rec := New(db.Store, nil)
	ctx := context.Background()

	expense := db.MustSaveExpense(model.Expense{MerchantName: "Ghost Kitchen"})

	// Category 4242 does not exist, so the merchant pattern insert violates
	// the foreign key and the whole correction rolls back.
	_, err := rec.LearnFromCorrection(ctx, expense, 4242, nil)
	require.Error(t, err)

	patterns, err := db.Store.GetPatterns(ctx, service.PatternFilter{})
	require.NoError(t, err)
	assert.Empty(t, patterns, "failed correction must not leave partial writes")

	_, err = db.Store.GetPreference(ctx, model.PreferenceContextMerchant, "ghost kitchen")
	assert.True(t, common.IsNotFound(err))
}
