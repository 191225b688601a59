/*
Package engine provides the loan ledger integrity and lifecycle engine.

PURPOSE:
  This package contains the domain types and algorithms for a staff-facing
  loan book: customers, short-term loans, installment payments, and the
  append-only audit chain that makes their history tamper-evident.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: all currency math uses decimal.Decimal, rounded to cents
  - Records: User, Customer, Loan, Payment — the persisted entities
  - Enums: Role, LoanStatus, RepaymentPlan — closed sets, validated at entry

DESIGN PRINCIPLES:
  1. One-way lifecycle: settled money cannot be un-settled except in the
     narrow multi-installment window (see Engine.UnmarkPaymentPaid)
  2. Precision: decimal.Decimal everywhere, never float64 for currency
  3. Derived balance: outstanding balance is always reconstructible from
     total repayable minus the sum of paid installments
  4. Auditability: every mutation emits exactly one hash-chained audit entry

SEE ALSO:
  - calculator.go: quote and repayment schedule math
  - engine.go: lifecycle state machine and operations
  - audit.go: hash chain construction and verification
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Round2 rounds a currency value to 2 decimal places, half away from zero.
// All monetary fields in this package are stored already rounded.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses a decimal literal. Panics on malformed input; use only
// for constants and test fixtures.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// ENUMS
// =============================================================================

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

type LoanStatus string

const (
	LoanOpen     LoanStatus = "open"
	LoanPaid     LoanStatus = "paid"
	LoanArchived LoanStatus = "archived"
)

// RepaymentPlan is the installment count of a loan. The plan implies the
// due-date interval: monthly (1), fortnightly (2), weekly (4).
type RepaymentPlan int

const (
	PlanMonthly     RepaymentPlan = 1
	PlanFortnightly RepaymentPlan = 2
	PlanWeekly      RepaymentPlan = 4
)

func (p RepaymentPlan) Valid() bool {
	switch p {
	case PlanMonthly, PlanFortnightly, PlanWeekly:
		return true
	}
	return false
}

// IntervalDays returns the number of days between installment due dates.
func (p RepaymentPlan) IntervalDays() int {
	switch p {
	case PlanMonthly:
		return 30
	case PlanFortnightly:
		return 14
	case PlanWeekly:
		return 7
	}
	return 0
}

// =============================================================================
// ENTITY TYPES
// =============================================================================

type EntityType string

const (
	EntityCustomer EntityType = "customer"
	EntityLoan     EntityType = "loan"
	EntityPayment  EntityType = "payment"
	EntityUser     EntityType = "user"
)

// =============================================================================
// RECORDS
// =============================================================================

// User is a staff account. Never deleted, only deactivated. Role is fixed at
// creation; there is no promotion path through the engine.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	FullName     string
	Role         Role
	Branch       string
	IsActive     bool
	CreatedAt    time.Time
}

// Customer is a borrower. While active, (ClientName, IDNumber) is unique
// among non-archived customers. Archiving is terminal.
type Customer struct {
	ID             string
	ClientName     string
	IDNumber       string // 13-digit national ID, Luhn-checksummed
	MandateID      string
	CellPhone      string
	BenefitEndDate *time.Time // grant/benefit expiry, optional
	CreatedAt      time.Time
	CreatedBy      string
	UpdatedAt      *time.Time
	UpdatedBy      string
	ArchivedAt     *time.Time
	ArchivedBy     string
}

func (c *Customer) Archived() bool { return c.ArchivedAt != nil }

// Loan is one instance of the single loan product: flat 40% interest plus a
// fixed service fee, repaid in 1, 2 or 4 installments.
//
// OutstandingBalance always equals
// max(0, round2(TotalRepayable - sum of paid installment amounts)).
// Status is paid iff the balance is zero, archived iff explicitly archived.
type Loan struct {
	ID                 string
	CustomerID         string
	LoanDate           time.Time
	PrincipalAmount    decimal.Decimal
	InterestRate       decimal.Decimal
	ServiceFee         decimal.Decimal
	TotalRepayable     decimal.Decimal
	RepaymentPlanCode  RepaymentPlan
	InstallmentAmount  decimal.Decimal
	OutstandingBalance decimal.Decimal
	Status             LoanStatus
	FieldsLocked       bool
	CreatedAt          time.Time
	CreatedBy          string
	UpdatedAt          *time.Time
	UpdatedBy          string
	ArchivedAt         *time.Time
	ArchivedBy         string
}

func (l *Loan) Archived() bool { return l.ArchivedAt != nil }

// Payment is one scheduled installment of a loan. Once paid it is immutable,
// except while the loan still has at least one unpaid sibling on a
// multi-installment plan. Full settlement locks the whole set.
type Payment struct {
	ID                string
	LoanID            string
	InstallmentNumber int
	AmountDue         decimal.Decimal
	DueDate           time.Time
	IsPaid            bool
	PaidAt            *time.Time
	PaidBy            string
	CreatedAt         time.Time
}

// Actor is the authenticated staff member performing an operation. Resolved
// by the caller (identity store) before invoking the engine.
type Actor struct {
	ID       string
	FullName string
	Role     Role
}

// Settings is the typed application configuration persisted in the settings
// table. The master secret hash lives in the same table but is accessed only
// through the identity service.
type Settings struct {
	ExportFolderPath string
	BranchName       string
}

// =============================================================================
// TIME HELPERS
// =============================================================================

// CalendarDate truncates t to its UTC calendar date. Fraud heuristics compare
// dates through this rather than slicing timestamp strings.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameCalendarDay reports whether two instants fall on the same UTC date.
func SameCalendarDay(a, b time.Time) bool {
	return CalendarDate(a).Equal(CalendarDate(b))
}
