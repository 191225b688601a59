/*
calculator.go - Loan quote and repayment schedule math

PURPOSE:
  Pure, deterministic pricing for the single loan product: flat 40% interest
  plus a fixed service fee, repaid in 1, 2 or 4 equal installments.

ROUNDING:
  Every currency value is rounded to cents, half away from zero. The
  per-installment amount is round2(total / plan) for EVERY row - the
  rounding remainder is deliberately NOT redistributed to the last
  installment, so sum(installments) can differ from the total by a cent
  on some principals. The books have always read this way and the balance
  recomputation floors at zero, so the drift is preserved for
  compatibility. Tests pin this behavior down.

SEE ALSO:
  - engine.go: consumes Quote and Schedule at loan creation
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	// interestRate is the flat rate applied to principal, fixed for the product.
	interestRate = MustDecimal("0.40")

	// serviceFee is the flat per-loan fee added on top of interest.
	serviceFee = MustDecimal("12.00")

	onePlusRate = MustDecimal("1.40")
)

// Quote is the derived pricing of a loan before any repayment.
type Quote struct {
	InterestRate      decimal.Decimal
	ServiceFee        decimal.Decimal
	TotalRepayable    decimal.Decimal
	InstallmentAmount decimal.Decimal
}

// ScheduleRow is one planned installment.
type ScheduleRow struct {
	InstallmentNumber int
	AmountDue         decimal.Decimal
	DueDate           time.Time
}

// NewQuote prices a loan: total = round2(principal * 1.40 + 12.00),
// installment = round2(total / plan).
func NewQuote(principal decimal.Decimal, plan RepaymentPlan) (Quote, error) {
	if !plan.Valid() {
		return Quote{}, Validationf("repayment_plan_code", "must be 1, 2 or 4")
	}
	if !principal.IsPositive() {
		return Quote{}, Validationf("principal_amount", "must be positive")
	}
	total := Round2(principal.Mul(onePlusRate).Add(serviceFee))
	installment := Round2(total.Div(decimal.NewFromInt(int64(plan))))
	return Quote{
		InterestRate:      interestRate,
		ServiceFee:        serviceFee,
		TotalRepayable:    total,
		InstallmentAmount: installment,
	}, nil
}

// Schedule expands a total into its installment rows. Installment n (1-based)
// falls due at loanDate + n * interval days, so the first installment is one
// full interval after the loan date.
func Schedule(loanDate time.Time, total decimal.Decimal, plan RepaymentPlan) ([]ScheduleRow, error) {
	if !plan.Valid() {
		return nil, Validationf("repayment_plan_code", "must be 1, 2 or 4")
	}
	installment := Round2(total.Div(decimal.NewFromInt(int64(plan))))
	interval := plan.IntervalDays()

	rows := make([]ScheduleRow, 0, int(plan))
	for i := 1; i <= int(plan); i++ {
		rows = append(rows, ScheduleRow{
			InstallmentNumber: i,
			AmountDue:         installment,
			DueDate:           loanDate.AddDate(0, 0, interval*i),
		})
	}
	return rows, nil
}
