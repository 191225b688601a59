/*
engine.go - Lifecycle state machine and orchestrator

PURPOSE:
  The one place where loan and payment state transitions happen. Every
  public operation here is a single store transaction: validate, mutate,
  append exactly one audit entry, commit. A failed operation leaves no
  partial effect and no audit entry.

STATE MACHINE:
  Loan:    open -> paid (automatic, balance reaches zero)
           open|paid -> archived (explicit, terminal, reason required)
  Payment: unpaid -> paid (always allowed while unpaid)
           paid -> unpaid ONLY while the loan has more than one installment
           AND at least one sibling is still unpaid. Full settlement locks
           the set permanently; a single-installment loan locks the instant
           its one payment is marked paid.

OVERRIDES:
  Managers/admins may rewrite a locked loan's core fields with a reason.
  Overrides recompute the quote and then restore the balance invariant from
  the payment rows rather than trusting incremental arithmetic.
*/
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const minReasonLength = 10

// Engine orchestrates loan lifecycle operations against a Store.
type Engine struct {
	store Store
	log   zerolog.Logger
}

func New(s Store, log zerolog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CreateCustomerInput struct {
	ClientName     string
	IDNumber       string
	MandateID      string
	CellPhone      string
	BenefitEndDate *time.Time
}

// CreateCustomer validates the national ID, rejects a duplicate active
// (name, id number) pair, persists and audits.
func (e *Engine) CreateCustomer(ctx context.Context, in CreateCustomerInput, actor Actor) (*Customer, error) {
	if err := requireCapability(actor, ActionCreateCustomer); err != nil {
		return nil, err
	}
	if in.ClientName == "" {
		return nil, Validationf("client_name", "must not be empty")
	}
	if err := ValidateIDNumber(in.IDNumber); err != nil {
		return nil, err
	}
	if in.MandateID == "" {
		return nil, Validationf("mandate_id", "must not be empty")
	}

	c := &Customer{
		ID:             uuid.NewString(),
		ClientName:     in.ClientName,
		IDNumber:       in.IDNumber,
		MandateID:      in.MandateID,
		CellPhone:      in.CellPhone,
		BenefitEndDate: in.BenefitEndDate,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      actor.ID,
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		existing, err := s.FindActiveCustomer(ctx, in.ClientName, in.IDNumber)
		if err != nil {
			return err
		}
		if existing != nil {
			return Conflictf("customer with same name and ID already exists")
		}
		if err := s.CreateCustomer(ctx, c); err != nil {
			return err
		}
		entry, err := newAuditEntry(ctx, s, EntityCustomer, c.ID, AuditCreate, actor,
			nil, map[string]any{"client_name": c.ClientName, "mandate_id": c.MandateID}, "")
		if err != nil {
			return err
		}
		return s.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("customer_id", c.ID).Str("actor", actor.ID).Msg("customer created")
	return c, nil
}

// =============================================================================
// LOANS
// =============================================================================

type CreateLoanInput struct {
	CustomerID string
	Principal  decimal.Decimal
	Plan       RepaymentPlan
	LoanDate   time.Time
}

// CreateLoan prices the loan, generates its schedule, and persists loan plus
// all payment rows in one transaction. A customer can hold at most one open
// loan; the check shares the insert's transaction so concurrent creations
// cannot both pass it.
func (e *Engine) CreateLoan(ctx context.Context, in CreateLoanInput, actor Actor) (*Loan, error) {
	if err := requireCapability(actor, ActionCreateLoan); err != nil {
		return nil, err
	}
	quote, err := NewQuote(in.Principal, in.Plan)
	if err != nil {
		return nil, err
	}
	rows, err := Schedule(in.LoanDate, quote.TotalRepayable, in.Plan)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	loan := &Loan{
		ID:                 uuid.NewString(),
		CustomerID:         in.CustomerID,
		LoanDate:           in.LoanDate,
		PrincipalAmount:    Round2(in.Principal),
		InterestRate:       quote.InterestRate,
		ServiceFee:         quote.ServiceFee,
		TotalRepayable:     quote.TotalRepayable,
		RepaymentPlanCode:  in.Plan,
		InstallmentAmount:  quote.InstallmentAmount,
		OutstandingBalance: quote.TotalRepayable,
		Status:             LoanOpen,
		FieldsLocked:       true, // locked immediately after creation
		CreatedAt:          now,
		CreatedBy:          actor.ID,
	}

	err = e.store.WithTx(ctx, func(s Store) error {
		customer, err := s.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return NotFoundf(EntityCustomer, in.CustomerID)
		}
		if customer.Archived() {
			return Conflictf("customer is archived")
		}
		open, err := s.CountOpenLoans(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if open > 0 {
			return Conflictf("customer already has an open loan")
		}
		if err := s.CreateLoan(ctx, loan); err != nil {
			return err
		}
		for _, row := range rows {
			p := &Payment{
				ID:                uuid.NewString(),
				LoanID:            loan.ID,
				InstallmentNumber: row.InstallmentNumber,
				AmountDue:         row.AmountDue,
				DueDate:           row.DueDate,
				CreatedAt:         now,
			}
			if err := s.CreatePayment(ctx, p); err != nil {
				return err
			}
		}
		entry, err := newAuditEntry(ctx, s, EntityLoan, loan.ID, AuditCreate, actor,
			nil, map[string]any{
				"customer_id": loan.CustomerID,
				"principal":   loan.PrincipalAmount,
				"plan":        int(loan.RepaymentPlanCode),
			}, "")
		if err != nil {
			return err
		}
		return s.AppendAudit(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("loan_id", loan.ID).Str("customer_id", loan.CustomerID).
		Str("total", loan.TotalRepayable.StringFixed(2)).Msg("loan created")
	return loan, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentResult is the loan state after a payment transition.
type PaymentResult struct {
	NewBalance decimal.Decimal
	LoanStatus LoanStatus
}

// MarkPaymentPaid settles one installment and recomputes the loan balance.
// Already-paid installments are a conflict; nothing changes and no audit
// entry is written.
func (e *Engine) MarkPaymentPaid(ctx context.Context, loanID string, installmentNumber int, actor Actor) (PaymentResult, error) {
	if err := requireCapability(actor, ActionMarkPaid); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err := e.store.WithTx(ctx, func(s Store) error {
		payment, err := s.GetPayment(ctx, loanID, installmentNumber)
		if err != nil {
			return err
		}
		if payment == nil {
			return NotFoundf(EntityPayment, loanID)
		}
		if payment.IsPaid {
			return Conflictf("payment already marked as paid")
		}
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return NotFoundf(EntityLoan, loanID)
		}
		if loan.Archived() {
			return Conflictf("loan is archived; payments are locked")
		}

		now := time.Now().UTC()
		if err := s.SetPaymentPaid(ctx, payment.ID, true, &now, actor.ID); err != nil {
			return err
		}

		newBalance := Round2(loan.OutstandingBalance.Sub(payment.AmountDue))
		status := loan.Status
		if !newBalance.IsPositive() {
			newBalance = decimal.Zero
			status = LoanPaid
		}
		if err := s.UpdateLoanBalance(ctx, loanID, newBalance, status, now, actor.ID); err != nil {
			return err
		}

		entry, err := newAuditEntry(ctx, s, EntityPayment, payment.ID, AuditMarkPaid, actor,
			map[string]any{"is_paid": false},
			map[string]any{"is_paid": true, "paid_at": now.Format(auditTimeFormat)}, "")
		if err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}

		result = PaymentResult{NewBalance: newBalance, LoanStatus: status}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	e.log.Info().Str("loan_id", loanID).Int("installment", installmentNumber).
		Str("balance", result.NewBalance.StringFixed(2)).Msg("payment marked paid")
	return result, nil
}

// UnmarkPaymentPaid reverses a settled installment. Permitted only in the
// narrow window where the loan has more than one installment and at least
// one sibling is still unpaid. A fully settled set - and any
// single-installment loan - is locked for good.
func (e *Engine) UnmarkPaymentPaid(ctx context.Context, loanID string, installmentNumber int, actor Actor) (PaymentResult, error) {
	if err := requireCapability(actor, ActionUnmarkPaid); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err := e.store.WithTx(ctx, func(s Store) error {
		payment, err := s.GetPayment(ctx, loanID, installmentNumber)
		if err != nil {
			return err
		}
		if payment == nil {
			return NotFoundf(EntityPayment, loanID)
		}
		if !payment.IsPaid {
			return Conflictf("payment is not marked as paid")
		}
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return NotFoundf(EntityLoan, loanID)
		}
		if loan.Archived() {
			return Conflictf("loan is archived; payments are locked")
		}
		if loan.RepaymentPlanCode == PlanMonthly {
			return Conflictf("single-installment loans lock once paid")
		}
		siblings, err := s.ListPayments(ctx, loanID)
		if err != nil {
			return err
		}
		allPaid := true
		for _, p := range siblings {
			if !p.IsPaid {
				allPaid = false
				break
			}
		}
		if allPaid {
			return Conflictf("loan is fully settled; payments are locked")
		}

		now := time.Now().UTC()
		if err := s.SetPaymentPaid(ctx, payment.ID, false, nil, ""); err != nil {
			return err
		}
		newBalance := Round2(loan.OutstandingBalance.Add(payment.AmountDue))
		if err := s.UpdateLoanBalance(ctx, loanID, newBalance, LoanOpen, now, actor.ID); err != nil {
			return err
		}

		entry, err := newAuditEntry(ctx, s, EntityPayment, payment.ID, AuditUnmarkPaid, actor,
			map[string]any{"is_paid": true},
			map[string]any{"is_paid": false}, "")
		if err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}

		result = PaymentResult{NewBalance: newBalance, LoanStatus: LoanOpen}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	e.log.Info().Str("loan_id", loanID).Int("installment", installmentNumber).
		Msg("payment unmarked")
	return result, nil
}

// =============================================================================
// ARCHIVE
// =============================================================================

// ArchiveEntity retires a customer or loan. Terminal, admin only, and the
// reason travels with the audit entry.
func (e *Engine) ArchiveEntity(ctx context.Context, entityType EntityType, entityID, reason string, actor Actor) error {
	if err := requireCapability(actor, ActionArchive); err != nil {
		return err
	}
	if len(reason) < minReasonLength {
		return Validationf("reason", "must be at least %d characters", minReasonLength)
	}

	now := time.Now().UTC()
	err := e.store.WithTx(ctx, func(s Store) error {
		switch entityType {
		case EntityCustomer:
			c, err := s.GetCustomer(ctx, entityID)
			if err != nil {
				return err
			}
			if c == nil {
				return NotFoundf(EntityCustomer, entityID)
			}
			if c.Archived() {
				return Conflictf("customer already archived")
			}
			if err := s.ArchiveCustomer(ctx, entityID, now, actor.ID); err != nil {
				return err
			}
		case EntityLoan:
			l, err := s.GetLoan(ctx, entityID)
			if err != nil {
				return err
			}
			if l == nil {
				return NotFoundf(EntityLoan, entityID)
			}
			if l.Archived() {
				return Conflictf("loan already archived")
			}
			if err := s.ArchiveLoan(ctx, entityID, now, actor.ID); err != nil {
				return err
			}
		default:
			return Validationf("entity_type", "must be customer or loan")
		}

		entry, err := newAuditEntry(ctx, s, entityType, entityID, AuditArchive, actor, nil, nil, reason)
		if err != nil {
			return err
		}
		return s.AppendAudit(ctx, entry)
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("entity", string(entityType)).Str("id", entityID).Msg("entity archived")
	return nil
}

// =============================================================================
// ADMINISTRATIVE OVERRIDE
// =============================================================================

// overridableFields are the locked loan fields a manager/admin may rewrite.
var overridableFields = map[string]bool{
	"loan_date":           true,
	"principal_amount":    true,
	"repayment_plan_code": true,
}

type OverrideFieldInput struct {
	LoanID    string
	FieldName string
	NewValue  string // parsed per field
	Reason    string
}

// OverrideLoanField rewrites one locked financial field. Changing principal
// or plan re-prices the loan and then restores the balance invariant from
// the payment rows. Every override is audited with prior and new values.
func (e *Engine) OverrideLoanField(ctx context.Context, in OverrideFieldInput, actor Actor) (*Loan, error) {
	if err := requireCapability(actor, ActionOverrideField); err != nil {
		return nil, err
	}
	if !overridableFields[in.FieldName] {
		return nil, Validationf("field_name", "field %s cannot be overridden", in.FieldName)
	}
	if len(in.Reason) < minReasonLength {
		return nil, Validationf("reason", "must be at least %d characters", minReasonLength)
	}

	var updated *Loan
	err := e.store.WithTx(ctx, func(s Store) error {
		loan, err := s.GetLoan(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return NotFoundf(EntityLoan, in.LoanID)
		}

		var before, after any
		switch in.FieldName {
		case "loan_date":
			before = loan.LoanDate.Format("2006-01-02")
			d, err := time.Parse("2006-01-02", in.NewValue)
			if err != nil {
				return Validationf("new_value", "loan_date must be YYYY-MM-DD")
			}
			loan.LoanDate = d
			after = in.NewValue
		case "principal_amount":
			before = loan.PrincipalAmount
			d, err := decimal.NewFromString(in.NewValue)
			if err != nil || !d.IsPositive() {
				return Validationf("new_value", "principal_amount must be a positive amount")
			}
			loan.PrincipalAmount = Round2(d)
			after = loan.PrincipalAmount
		case "repayment_plan_code":
			before = int(loan.RepaymentPlanCode)
			code, err := strconv.Atoi(in.NewValue)
			if err != nil || !RepaymentPlan(code).Valid() {
				return Validationf("new_value", "repayment_plan_code must be 1, 2 or 4")
			}
			loan.RepaymentPlanCode = RepaymentPlan(code)
			after = code
		}

		// Re-price when the financial inputs changed.
		if in.FieldName != "loan_date" {
			quote, err := NewQuote(loan.PrincipalAmount, loan.RepaymentPlanCode)
			if err != nil {
				return err
			}
			loan.InterestRate = quote.InterestRate
			loan.ServiceFee = quote.ServiceFee
			loan.TotalRepayable = quote.TotalRepayable
			loan.InstallmentAmount = quote.InstallmentAmount
		}

		now := time.Now().UTC()
		loan.UpdatedAt = &now
		loan.UpdatedBy = actor.ID
		if err := s.UpdateLoanTerms(ctx, loan); err != nil {
			return err
		}
		if err := recalcLoan(ctx, s, loan, now, actor.ID); err != nil {
			return err
		}

		entry, err := newAuditEntry(ctx, s, EntityLoan, loan.ID, AuditFieldOverride, actor,
			map[string]any{in.FieldName: before},
			map[string]any{in.FieldName: after}, in.Reason)
		if err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		updated = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("loan_id", in.LoanID).Str("field", in.FieldName).Msg("loan field overridden")
	return updated, nil
}

// RecalculateBalance rebuilds a loan's outstanding balance from scratch:
// max(0, round2(totalRepayable - sum of paid installments)). Used after
// administrative edits instead of trusting incremental updates.
func (e *Engine) RecalculateBalance(ctx context.Context, loanID string, actor Actor) (PaymentResult, error) {
	if err := requireCapability(actor, ActionOverrideField); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err := e.store.WithTx(ctx, func(s Store) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return NotFoundf(EntityLoan, loanID)
		}
		now := time.Now().UTC()
		if err := recalcLoan(ctx, s, loan, now, actor.ID); err != nil {
			return err
		}
		result = PaymentResult{NewBalance: loan.OutstandingBalance, LoanStatus: loan.Status}
		return nil
	})
	return result, err
}

// recalcLoan derives balance and status from the payment rows and writes
// them back. The loan struct is updated in place.
func recalcLoan(ctx context.Context, s Store, loan *Loan, at time.Time, by string) error {
	payments, err := s.ListPayments(ctx, loan.ID)
	if err != nil {
		return err
	}
	paid := decimal.Zero
	for _, p := range payments {
		if p.IsPaid {
			paid = paid.Add(p.AmountDue)
		}
	}
	balance := Round2(loan.TotalRepayable.Sub(paid))
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	status := loan.Status
	if !loan.Archived() {
		if balance.IsZero() {
			status = LoanPaid
		} else {
			status = LoanOpen
		}
	}

	loan.OutstandingBalance = balance
	loan.Status = status
	return s.UpdateLoanBalance(ctx, loan.ID, balance, status, at, by)
}
