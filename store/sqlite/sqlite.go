/*
Package sqlite provides the SQLite-backed implementation of engine.Store.

PURPOSE:
  One local database file holds the whole loan book: users, customers,
  loans, payments, the audit chain, and settings. This is the only
  persisted artifact the engine owns.

CONSTRAINTS ENFORCED HERE:
  - UNIQUE(loan_id, installment_number) on payments
  - UNIQUE(client_name, id_number) among non-archived customers
    (partial index), backing the transactional duplicate check
  - username uniqueness on users
  - audit_logs has no UPDATE or DELETE path; the chain is append-only

TRANSACTIONS:
  WithTx begins one SQL transaction and hands the closure a Store bound to
  it, serialized by a store-wide mutex. Every engine operation runs its
  read-then-write span inside one WithTx call, which is what makes the
  open-loan cap and the previous-audit-hash read race-free. Nested WithTx
  joins the enclosing transaction.

WAL MODE:
  The database opens with foreign keys on and WAL journaling.

USAGE:
  store, err := sqlite.New("./data/loanbook.db")   // ":memory:" for tests
  defer store.Close()
  eng := engine.New(store, logger)

SEE ALSO:
  - engine/store.go: interface definition and transactional contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kasigo/loanbook/engine"
)

// querier abstracts *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements engine.Store on SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	mu   *sync.Mutex
	inTx bool
}

// New opens (and migrates) a SQLite database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers at the driver level.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: db, mu: &sync.Mutex{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL,
		branch TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		client_name TEXT NOT NULL,
		id_number TEXT NOT NULL,
		mandate_id TEXT NOT NULL,
		cell_phone TEXT,
		benefit_end_date TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TEXT,
		updated_by TEXT,
		archived_at TEXT,
		archived_by TEXT
	);

	-- The identity tuple is unique only among active customers; archiving
	-- frees it for re-registration.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_active_identity
		ON customers(client_name, id_number)
		WHERE archived_at IS NULL;

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		loan_date TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		service_fee TEXT NOT NULL,
		total_repayable TEXT NOT NULL,
		repayment_plan_code INTEGER NOT NULL,
		installment_amount TEXT NOT NULL,
		outstanding_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		fields_locked BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_at TEXT,
		updated_by TEXT,
		archived_at TEXT,
		archived_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		installment_number INTEGER NOT NULL,
		amount_due TEXT NOT NULL,
		due_date TEXT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at TEXT,
		paid_by TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(loan_id, installment_number)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);

	-- Append-only audit chain. No UPDATE or DELETE statements exist for
	-- this table anywhere in the codebase.
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		before_json TEXT NOT NULL DEFAULT '',
		after_json TEXT NOT NULL DEFAULT '',
		actor_user_id TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		integrity_hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_logs(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_logs(actor_user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one SQL transaction. The Store handed to fn is bound
// to that transaction; nested calls join it.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	bound := &Store{db: s.db, q: tx, mu: s.mu, inTx: true}
	if err := fn(bound); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = "id, username, password_hash, full_name, role, branch, is_active, created_at"

func (s *Store) CreateUser(ctx context.Context, u *engine.User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.FullName, string(u.Role), u.Branch, u.IsActive, formatTime(u.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return engine.Conflictf("username %q already exists", u.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (*engine.User, error) {
	var u engine.User
	var role, createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &role, &u.Branch, &u.IsActive, &createdAt)
	if err != nil {
		return nil, err
	}
	u.Role = engine.Role(role)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*engine.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*engine.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]*engine.User, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*engine.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	_, err := s.q.ExecContext(ctx, "UPDATE users SET is_active = ? WHERE id = ?", active, id)
	return err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = "id, client_name, id_number, mandate_id, cell_phone, benefit_end_date, created_at, created_by, updated_at, updated_by, archived_at, archived_by"

func (s *Store) CreateCustomer(ctx context.Context, c *engine.Customer) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientName, c.IDNumber, c.MandateID, nullString(c.CellPhone), nullTime(c.BenefitEndDate),
		formatTime(c.CreatedAt), c.CreatedBy, nullTime(c.UpdatedAt), nullString(c.UpdatedBy),
		nullTime(c.ArchivedAt), nullString(c.ArchivedBy),
	)
	if isUniqueConstraintError(err) {
		return engine.Conflictf("customer with same name and ID already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func scanCustomer(row interface{ Scan(...any) error }) (*engine.Customer, error) {
	var c engine.Customer
	var cellPhone, benefitEnd, updatedAt, updatedBy, archivedAt, archivedBy sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.ClientName, &c.IDNumber, &c.MandateID, &cellPhone, &benefitEnd,
		&createdAt, &c.CreatedBy, &updatedAt, &updatedBy, &archivedAt, &archivedBy)
	if err != nil {
		return nil, err
	}
	c.CellPhone = cellPhone.String
	c.BenefitEndDate = scanNullTime(benefitEnd)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = scanNullTime(updatedAt)
	c.UpdatedBy = updatedBy.String
	c.ArchivedAt = scanNullTime(archivedAt)
	c.ArchivedBy = archivedBy.String
	return &c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*engine.Customer, error) {
	c, err := scanCustomer(s.q.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context, includeArchived bool) ([]*engine.Customer, error) {
	query := "SELECT " + customerColumns + " FROM customers"
	if !includeArchived {
		query += " WHERE archived_at IS NULL"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []*engine.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) FindActiveCustomer(ctx context.Context, clientName, idNumber string) (*engine.Customer, error) {
	c, err := scanCustomer(s.q.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE client_name = ? AND id_number = ? AND archived_at IS NULL",
		clientName, idNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) ArchiveCustomer(ctx context.Context, id string, at time.Time, by string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE customers SET archived_at = ?, archived_by = ? WHERE id = ?",
		formatTime(at), by, id)
	return err
}

// =============================================================================
// LOANS
// =============================================================================

const loanColumns = "id, customer_id, loan_date, principal_amount, interest_rate, service_fee, total_repayable, repayment_plan_code, installment_amount, outstanding_balance, status, fields_locked, created_at, created_by, updated_at, updated_by, archived_at, archived_by"

func (s *Store) CreateLoan(ctx context.Context, l *engine.Loan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CustomerID, formatTime(l.LoanDate), l.PrincipalAmount.String(), l.InterestRate.String(),
		l.ServiceFee.String(), l.TotalRepayable.String(), int(l.RepaymentPlanCode),
		l.InstallmentAmount.String(), l.OutstandingBalance.String(), string(l.Status),
		l.FieldsLocked, formatTime(l.CreatedAt), l.CreatedBy, nullTime(l.UpdatedAt),
		nullString(l.UpdatedBy), nullTime(l.ArchivedAt), nullString(l.ArchivedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

func scanLoan(row interface{ Scan(...any) error }) (*engine.Loan, error) {
	var l engine.Loan
	var loanDate, principal, rate, fee, total, installment, balance, status, createdAt string
	var planCode int
	var updatedAt, updatedBy, archivedAt, archivedBy sql.NullString
	err := row.Scan(&l.ID, &l.CustomerID, &loanDate, &principal, &rate, &fee, &total, &planCode,
		&installment, &balance, &status, &l.FieldsLocked, &createdAt, &l.CreatedBy,
		&updatedAt, &updatedBy, &archivedAt, &archivedBy)
	if err != nil {
		return nil, err
	}
	l.LoanDate = parseTime(loanDate)
	l.PrincipalAmount = parseDecimal(principal)
	l.InterestRate = parseDecimal(rate)
	l.ServiceFee = parseDecimal(fee)
	l.TotalRepayable = parseDecimal(total)
	l.RepaymentPlanCode = engine.RepaymentPlan(planCode)
	l.InstallmentAmount = parseDecimal(installment)
	l.OutstandingBalance = parseDecimal(balance)
	l.Status = engine.LoanStatus(status)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = scanNullTime(updatedAt)
	l.UpdatedBy = updatedBy.String
	l.ArchivedAt = scanNullTime(archivedAt)
	l.ArchivedBy = archivedBy.String
	return &l, nil
}

func (s *Store) GetLoan(ctx context.Context, id string) (*engine.Loan, error) {
	l, err := scanLoan(s.q.QueryRowContext(ctx, "SELECT "+loanColumns+" FROM loans WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *Store) ListLoans(ctx context.Context, f engine.LoanFilter) ([]*engine.Loan, error) {
	query := "SELECT " + loanColumns + " FROM loans"
	var conds []string
	var args []any
	if !f.IncludeArchived {
		conds = append(conds, "archived_at IS NULL")
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CustomerID != "" {
		conds = append(conds, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*engine.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

func (s *Store) CountOpenLoans(ctx context.Context, customerID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM loans WHERE customer_id = ? AND status = ? AND archived_at IS NULL",
		customerID, string(engine.LoanOpen)).Scan(&count)
	return count, err
}

func (s *Store) UpdateLoanBalance(ctx context.Context, id string, balance decimal.Decimal, status engine.LoanStatus, at time.Time, by string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE loans SET outstanding_balance = ?, status = ?, updated_at = ?, updated_by = ? WHERE id = ?",
		balance.String(), string(status), formatTime(at), by, id)
	return err
}

func (s *Store) UpdateLoanTerms(ctx context.Context, l *engine.Loan) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE loans SET loan_date = ?, principal_amount = ?, interest_rate = ?, service_fee = ?,
			total_repayable = ?, repayment_plan_code = ?, installment_amount = ?,
			updated_at = ?, updated_by = ?
		WHERE id = ?`,
		formatTime(l.LoanDate), l.PrincipalAmount.String(), l.InterestRate.String(),
		l.ServiceFee.String(), l.TotalRepayable.String(), int(l.RepaymentPlanCode),
		l.InstallmentAmount.String(), nullTime(l.UpdatedAt), nullString(l.UpdatedBy), l.ID)
	return err
}

func (s *Store) ArchiveLoan(ctx context.Context, id string, at time.Time, by string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE loans SET archived_at = ?, archived_by = ?, status = ? WHERE id = ?",
		formatTime(at), by, string(engine.LoanArchived), id)
	return err
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = "id, loan_id, installment_number, amount_due, due_date, is_paid, paid_at, paid_by, created_at"

func (s *Store) CreatePayment(ctx context.Context, p *engine.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.LoanID, p.InstallmentNumber, p.AmountDue.String(), formatTime(p.DueDate),
		p.IsPaid, nullTime(p.PaidAt), nullString(p.PaidBy), formatTime(p.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return engine.Conflictf("installment %d already exists for loan %s", p.InstallmentNumber, p.LoanID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func scanPayment(row interface{ Scan(...any) error }) (*engine.Payment, error) {
	var p engine.Payment
	var amount, dueDate, createdAt string
	var paidAt, paidBy sql.NullString
	err := row.Scan(&p.ID, &p.LoanID, &p.InstallmentNumber, &amount, &dueDate, &p.IsPaid,
		&paidAt, &paidBy, &createdAt)
	if err != nil {
		return nil, err
	}
	p.AmountDue = parseDecimal(amount)
	p.DueDate = parseTime(dueDate)
	p.PaidAt = scanNullTime(paidAt)
	p.PaidBy = paidBy.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, loanID string, installmentNumber int) (*engine.Payment, error) {
	p, err := scanPayment(s.q.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE loan_id = ? AND installment_number = ?",
		loanID, installmentNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListPayments(ctx context.Context, loanID string) ([]*engine.Payment, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE loan_id = ? ORDER BY installment_number ASC",
		loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*engine.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) SetPaymentPaid(ctx context.Context, id string, paid bool, at *time.Time, by string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE payments SET is_paid = ?, paid_at = ?, paid_by = ? WHERE id = ?",
		paid, nullTime(at), nullString(by), id)
	return err
}

// =============================================================================
// AUDIT CHAIN (append-only)
// =============================================================================

const auditColumns = "id, entity_type, entity_id, action, before_json, after_json, actor_user_id, actor_name, reason, created_at, integrity_hash"

func (s *Store) AppendAudit(ctx context.Context, e *engine.AuditEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.EntityType), e.EntityID, string(e.Action), e.BeforeJSON, e.AfterJSON,
		e.ActorUserID, e.ActorName, e.Reason, formatTime(e.CreatedAt), e.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) LastAuditHash(ctx context.Context) (string, error) {
	var hash string
	err := s.q.QueryRowContext(ctx,
		"SELECT integrity_hash FROM audit_logs ORDER BY created_at DESC, rowid DESC LIMIT 1",
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func scanAudit(row interface{ Scan(...any) error }) (*engine.AuditEntry, error) {
	var e engine.AuditEntry
	var entityType, action, createdAt string
	err := row.Scan(&e.ID, &entityType, &e.EntityID, &action, &e.BeforeJSON, &e.AfterJSON,
		&e.ActorUserID, &e.ActorName, &e.Reason, &createdAt, &e.IntegrityHash)
	if err != nil {
		return nil, err
	}
	e.EntityType = engine.EntityType(entityType)
	e.Action = engine.AuditAction(action)
	e.CreatedAt = parseTime(createdAt)
	// The decoded snapshots are a convenience view; the integrity hash covers
	// the raw JSON text. A corrupt snapshot must still be readable so chain
	// verification can report it, so decode failures leave the map nil.
	if e.BeforeJSON != "" {
		_ = json.Unmarshal([]byte(e.BeforeJSON), &e.Before)
	}
	if e.AfterJSON != "" {
		_ = json.Unmarshal([]byte(e.AfterJSON), &e.After)
	}
	return &e, nil
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]*engine.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*engine.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListAudit(ctx context.Context, f engine.AuditFilter) ([]*engine.AuditEntry, error) {
	query := "SELECT " + auditColumns + " FROM audit_logs"
	var conds []string
	var args []any
	if f.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_user_id = ?")
		args = append(args, f.ActorID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryAudit(ctx, query, args...)
}

func (s *Store) ListAuditChronological(ctx context.Context) ([]*engine.AuditEntry, error) {
	return s.queryAudit(ctx, "SELECT "+auditColumns+" FROM audit_logs ORDER BY created_at ASC, rowid ASC")
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.q.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}
