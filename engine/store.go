/*
store.go - Persistence interface for the loan book

PURPOSE:
  Defines the boundary between domain logic and the database. The engine
  only ever talks to this interface; store/sqlite provides the concrete
  implementation backed by one local SQLite file.

TRANSACTIONAL CONTRACT:
  Every public engine operation runs inside WithTx: one atomic
  read-then-write span per operation. The open-loan-per-customer check, the
  balance recompute, and the previous-audit-hash lookup are only correct
  when they share a transaction with the write that follows them. Two
  concurrent loan creations must not both pass the open-loan check; two
  concurrent mutations must not link their audit entries to the same
  predecessor and fork the chain.

AUDIT CONTRACT:
  audit_logs is append-only. There is no update or delete path, here or in
  any implementation. Tampering is detected by VerifyChain, not prevented
  by the interface - that is the point of the hash chain.
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LoanFilter narrows ListLoans. Zero value lists all non-archived loans.
type LoanFilter struct {
	Status          LoanStatus // empty = any
	CustomerID      string     // empty = any
	IncludeArchived bool
}

// AuditFilter narrows ListAudit. Results are newest-first, capped at Limit.
type AuditFilter struct {
	EntityType EntityType
	EntityID   string
	ActorID    string
	Limit      int
}

// Store is the persistence surface for all engine entities.
type Store interface {
	// WithTx executes fn within one database transaction. If fn returns an
	// error the transaction is rolled back, otherwise committed. The Store
	// passed to fn must be used for every read and write inside fn.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	SetUserActive(ctx context.Context, id string, active bool) error

	// Customers
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCustomers(ctx context.Context, includeArchived bool) ([]*Customer, error)
	// FindActiveCustomer returns the non-archived customer with the exact
	// (name, id number) pair, or nil when none exists.
	FindActiveCustomer(ctx context.Context, clientName, idNumber string) (*Customer, error)
	ArchiveCustomer(ctx context.Context, id string, at time.Time, by string) error

	// Loans
	CreateLoan(ctx context.Context, l *Loan) error
	GetLoan(ctx context.Context, id string) (*Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]*Loan, error)
	CountOpenLoans(ctx context.Context, customerID string) (int, error)
	UpdateLoanBalance(ctx context.Context, id string, balance decimal.Decimal, status LoanStatus, at time.Time, by string) error
	// UpdateLoanTerms rewrites the financial fields after an administrative
	// override. Only the override path may call it.
	UpdateLoanTerms(ctx context.Context, l *Loan) error
	ArchiveLoan(ctx context.Context, id string, at time.Time, by string) error

	// Payments
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, loanID string, installmentNumber int) (*Payment, error)
	ListPayments(ctx context.Context, loanID string) ([]*Payment, error)
	SetPaymentPaid(ctx context.Context, id string, paid bool, at *time.Time, by string) error

	// Audit chain (append-only)
	AppendAudit(ctx context.Context, e *AuditEntry) error
	// LastAuditHash returns the integrity hash of the newest entry, or ""
	// when the chain is empty. Must be called inside the same transaction
	// as the AppendAudit that consumes it.
	LastAuditHash(ctx context.Context) (string, error)
	ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
	// ListAuditChronological returns every entry oldest-first, for chain
	// verification.
	ListAuditChronological(ctx context.Context) ([]*AuditEntry, error)

	// Settings (typed access lives in settings.go / identity.go)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}
