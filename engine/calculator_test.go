package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasigo/loanbook/engine"
)

// =============================================================================
// QUOTE TESTS
// =============================================================================

func TestNewQuote_StandardPricing(t *testing.T) {
	// GIVEN: A principal of 500 on a 4-installment plan
	// WHEN: Pricing the loan
	// THEN: total = round2(500 * 1.40 + 12.00) = 712.00, installment = 178.00

	quote, err := engine.NewQuote(engine.MustDecimal("500"), engine.PlanWeekly)
	require.NoError(t, err)

	assert.Equal(t, "712.00", quote.TotalRepayable.StringFixed(2))
	assert.Equal(t, "178.00", quote.InstallmentAmount.StringFixed(2))
	assert.Equal(t, "0.40", quote.InterestRate.StringFixed(2))
	assert.Equal(t, "12.00", quote.ServiceFee.StringFixed(2))
}

func TestNewQuote_AllPlans(t *testing.T) {
	// For every valid plan: total is plan-independent, installment is
	// round2(total / plan).

	cases := []struct {
		plan        engine.RepaymentPlan
		installment string
	}{
		{engine.PlanMonthly, "1412.00"},
		{engine.PlanFortnightly, "706.00"},
		{engine.PlanWeekly, "353.00"},
	}
	for _, tc := range cases {
		quote, err := engine.NewQuote(engine.MustDecimal("1000"), tc.plan)
		require.NoError(t, err)
		assert.Equal(t, "1412.00", quote.TotalRepayable.StringFixed(2), "plan %d", tc.plan)
		assert.Equal(t, tc.installment, quote.InstallmentAmount.StringFixed(2), "plan %d", tc.plan)
	}
}

func TestNewQuote_InvalidInputs(t *testing.T) {
	// Plan must be 1, 2 or 4; principal must be positive.

	_, err := engine.NewQuote(engine.MustDecimal("500"), engine.RepaymentPlan(3))
	assert.ErrorIs(t, err, engine.ErrValidation, "plan 3 should be rejected")

	_, err = engine.NewQuote(engine.MustDecimal("0"), engine.PlanMonthly)
	assert.ErrorIs(t, err, engine.ErrValidation, "zero principal should be rejected")

	_, err = engine.NewQuote(engine.MustDecimal("-50"), engine.PlanMonthly)
	assert.ErrorIs(t, err, engine.ErrValidation, "negative principal should be rejected")
}

func TestNewQuote_RoundingDriftPreserved(t *testing.T) {
	// GIVEN: A principal whose total does not divide evenly by the plan count
	// WHEN: Pricing on a 4-installment plan
	// THEN: The per-installment amount is round2(total/4) and the remainder is
	//       NOT redistributed: 4 installments of 178.00 sum to 712.00, one
	//       cent short of the 712.01 total. The books have always read this
	//       way; this test pins the drift down so a change is deliberate.

	quote, err := engine.NewQuote(engine.MustDecimal("500.01"), engine.PlanWeekly)
	require.NoError(t, err)

	assert.Equal(t, "712.01", quote.TotalRepayable.StringFixed(2))
	assert.Equal(t, "178.00", quote.InstallmentAmount.StringFixed(2))

	sum := quote.InstallmentAmount.Mul(engine.MustDecimal("4"))
	assert.Equal(t, "712.00", sum.StringFixed(2),
		"installment sum intentionally differs from total by one cent")
}

// =============================================================================
// SCHEDULE TESTS
// =============================================================================

func TestSchedule_WeeklyDueDates(t *testing.T) {
	// GIVEN: A 4-installment loan dated Jan 1
	// WHEN: Expanding the schedule
	// THEN: Installment n falls due n weeks after the loan date

	loanDate := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows, err := engine.Schedule(loanDate, engine.MustDecimal("712.00"), engine.PlanWeekly)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for i, row := range rows {
		assert.Equal(t, i+1, row.InstallmentNumber)
		assert.Equal(t, "178.00", row.AmountDue.StringFixed(2))
		assert.Equal(t, loanDate.AddDate(0, 0, 7*(i+1)), row.DueDate)
	}
}

func TestSchedule_IntervalPerPlan(t *testing.T) {
	// Monthly plans use 30-day intervals, fortnightly 14, weekly 7. The first
	// installment is always one full interval after the loan date.

	loanDate := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		plan     engine.RepaymentPlan
		interval int
	}{
		{engine.PlanMonthly, 30},
		{engine.PlanFortnightly, 14},
		{engine.PlanWeekly, 7},
	}
	for _, tc := range cases {
		rows, err := engine.Schedule(loanDate, engine.MustDecimal("1412.00"), tc.plan)
		require.NoError(t, err)
		require.Len(t, rows, int(tc.plan))
		assert.Equal(t, loanDate.AddDate(0, 0, tc.interval), rows[0].DueDate, "plan %d", tc.plan)
		if len(rows) > 1 {
			last := rows[len(rows)-1]
			assert.Equal(t, loanDate.AddDate(0, 0, tc.interval*int(tc.plan)), last.DueDate, "plan %d", tc.plan)
		}
	}
}

func TestSchedule_InvalidPlan(t *testing.T) {
	_, err := engine.Schedule(time.Now(), engine.MustDecimal("100"), engine.RepaymentPlan(5))
	assert.ErrorIs(t, err, engine.ErrValidation)
}
