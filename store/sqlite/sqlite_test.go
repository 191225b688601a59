package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasigo/loanbook/engine"
	"github.com/kasigo/loanbook/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testCustomer(id, name string) *engine.Customer {
	return &engine.Customer{
		ID:         id,
		ClientName: name,
		IDNumber:   "8001015009087",
		MandateID:  "MND-001",
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  "user-1",
	}
}

func testLoan(id, customerID string) *engine.Loan {
	return &engine.Loan{
		ID:                 id,
		CustomerID:         customerID,
		LoanDate:           time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC),
		PrincipalAmount:    engine.MustDecimal("500.00"),
		InterestRate:       engine.MustDecimal("0.40"),
		ServiceFee:         engine.MustDecimal("12.00"),
		TotalRepayable:     engine.MustDecimal("712.00"),
		RepaymentPlanCode:  engine.PlanWeekly,
		InstallmentAmount:  engine.MustDecimal("178.00"),
		OutstandingBalance: engine.MustDecimal("712.00"),
		Status:             engine.LoanOpen,
		FieldsLocked:       true,
		CreatedAt:          time.Now().UTC(),
		CreatedBy:          "user-1",
	}
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestCustomerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	benefitEnd := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)
	c := testCustomer("cust-1", "Test User")
	c.CellPhone = "0821234567"
	c.BenefitEndDate = &benefitEnd

	require.NoError(t, store.CreateCustomer(ctx, c))

	got, err := store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test User", got.ClientName)
	assert.Equal(t, "0821234567", got.CellPhone)
	require.NotNil(t, got.BenefitEndDate)
	assert.True(t, benefitEnd.Equal(*got.BenefitEndDate))
	assert.Nil(t, got.ArchivedAt)

	missing, err := store.GetCustomer(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLoanRoundTrip_DecimalsSurviveAsText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1", "Test User")))
	l := testLoan("loan-1", "cust-1")
	l.PrincipalAmount = engine.MustDecimal("333.33")
	l.TotalRepayable = engine.MustDecimal("478.66")
	l.OutstandingBalance = engine.MustDecimal("478.66")
	require.NoError(t, store.CreateLoan(ctx, l))

	got, err := store.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.PrincipalAmount.Equal(engine.MustDecimal("333.33")))
	assert.True(t, got.TotalRepayable.Equal(engine.MustDecimal("478.66")))
	assert.Equal(t, engine.PlanWeekly, got.RepaymentPlanCode)
	assert.True(t, got.FieldsLocked)
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

func TestActiveCustomerIdentityUnique(t *testing.T) {
	// The (client_name, id_number) pair is unique only among non-archived
	// customers; archiving frees it.

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1", "Test User")))

	err := store.CreateCustomer(ctx, testCustomer("cust-2", "Test User"))
	assert.ErrorIs(t, err, engine.ErrConflict)

	require.NoError(t, store.ArchiveCustomer(ctx, "cust-1", time.Now().UTC(), "user-admin"))
	assert.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-2", "Test User")))
}

func TestPaymentInstallmentUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1", "Test User")))
	require.NoError(t, store.CreateLoan(ctx, testLoan("loan-1", "cust-1")))

	p := &engine.Payment{
		ID:                "pay-1",
		LoanID:            "loan-1",
		InstallmentNumber: 1,
		AmountDue:         engine.MustDecimal("178.00"),
		DueDate:           time.Now().UTC(),
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, store.CreatePayment(ctx, p))

	dup := *p
	dup.ID = "pay-2"
	assert.ErrorIs(t, store.CreatePayment(ctx, &dup), engine.ErrConflict)
}

func TestUsernameUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &engine.User{
		ID: "user-1", Username: "thandi", PasswordHash: "x",
		FullName: "Thandi M", Role: engine.RoleEmployee, Branch: "Main",
		IsActive: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateUser(ctx, u))

	dup := *u
	dup.ID = "user-2"
	assert.ErrorIs(t, store.CreateUser(ctx, &dup), engine.ErrConflict)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a customer and then fails
	// WHEN: The closure returns an error
	// THEN: Nothing is persisted

	store := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.CreateCustomer(ctx, testCustomer("cust-1", "Test User")); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back insert must not survive")
}

func TestWithTx_NestedJoinsOuter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s engine.Store) error {
		return s.WithTx(ctx, func(inner engine.Store) error {
			return inner.CreateCustomer(ctx, testCustomer("cust-1", "Test User"))
		})
	})
	require.NoError(t, err)

	got, err := store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// =============================================================================
// AUDIT ORDERING
// =============================================================================

func TestLastAuditHash_FollowsInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash, err := store.LastAuditHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", hash, "empty chain has the empty previous hash")

	base := time.Now().UTC()
	for i, h := range []string{"hash-a", "hash-b", "hash-c"} {
		entry := &engine.AuditEntry{
			ID:            h,
			EntityType:    engine.EntityLoan,
			EntityID:      "loan-1",
			Action:        engine.AuditCreate,
			ActorUserID:   "user-1",
			ActorName:     "Alice",
			CreatedAt:     base.Add(time.Duration(i) * time.Millisecond),
			IntegrityHash: h,
		}
		require.NoError(t, store.AppendAudit(ctx, entry))
	}

	hash, err = store.LastAuditHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash-c", hash)

	entries, err := store.ListAuditChronological(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "hash-a", entries[0].ID)
	assert.Equal(t, "hash-c", entries[2].ID)
}

func TestListAudit_CorruptSnapshotStillReadable(t *testing.T) {
	// The integrity hash covers the raw snapshot text, so a row whose
	// snapshot is not valid JSON must still be returned from reads for
	// chain verification to flag it. Only the decoded map stays nil.
	store := newTestStore(t)
	ctx := context.Background()

	entry := &engine.AuditEntry{
		ID: "e1", EntityType: engine.EntityLoan, EntityID: "loan-1",
		Action: engine.AuditCreate, ActorUserID: "user-1", ActorName: "A",
		BeforeJSON: "{not json", AfterJSON: `{"status":"open"}`,
		CreatedAt: time.Now().UTC(), IntegrityHash: "e1",
	}
	require.NoError(t, store.AppendAudit(ctx, entry))

	entries, err := store.ListAuditChronological(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "{not json", entries[0].BeforeJSON, "raw text preserved")
	assert.Nil(t, entries[0].Before)
	assert.Equal(t, "open", entries[0].After["status"])
}

func TestListAudit_FiltersAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	mk := func(id string, et engine.EntityType, entityID, actor string, i int) *engine.AuditEntry {
		return &engine.AuditEntry{
			ID: id, EntityType: et, EntityID: entityID, Action: engine.AuditCreate,
			ActorUserID: actor, ActorName: "A",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond), IntegrityHash: id,
		}
	}
	require.NoError(t, store.AppendAudit(ctx, mk("e1", engine.EntityCustomer, "cust-1", "user-1", 0)))
	require.NoError(t, store.AppendAudit(ctx, mk("e2", engine.EntityLoan, "loan-1", "user-1", 1)))
	require.NoError(t, store.AppendAudit(ctx, mk("e3", engine.EntityLoan, "loan-2", "user-2", 2)))

	entries, err := store.ListAudit(ctx, engine.AuditFilter{EntityType: engine.EntityLoan})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e3", entries[0].ID, "newest first")

	entries, err = store.ListAudit(ctx, engine.AuditFilter{ActorID: "user-2"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e3", entries[0].ID)

	entries, err = store.ListAudit(ctx, engine.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, "branch_name")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, "branch_name", "Main Street"))
	v, ok, err := store.GetSetting(ctx, "branch_name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Main Street", v)

	require.NoError(t, store.SetSetting(ctx, "branch_name", "High Street"))
	v, _, err = store.GetSetting(ctx, "branch_name")
	require.NoError(t, err)
	assert.Equal(t, "High Street", v)
}

// =============================================================================
// LOAN QUERIES
// =============================================================================

func TestCountOpenLoans_IgnoresPaidAndArchived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1", "Test User")))

	open := testLoan("loan-open", "cust-1")
	require.NoError(t, store.CreateLoan(ctx, open))

	paid := testLoan("loan-paid", "cust-1")
	paid.Status = engine.LoanPaid
	paid.OutstandingBalance = engine.MustDecimal("0")
	require.NoError(t, store.CreateLoan(ctx, paid))

	count, err := store.CountOpenLoans(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.ArchiveLoan(ctx, "loan-open", time.Now().UTC(), "user-admin"))
	count, err = store.CountOpenLoans(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestListLoans_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1", "Test User")))
	require.NoError(t, store.CreateLoan(ctx, testLoan("loan-1", "cust-1")))
	archived := testLoan("loan-2", "cust-1")
	require.NoError(t, store.CreateLoan(ctx, archived))
	require.NoError(t, store.ArchiveLoan(ctx, "loan-2", time.Now().UTC(), "user-admin"))

	loans, err := store.ListLoans(ctx, engine.LoanFilter{})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "loan-1", loans[0].ID)

	loans, err = store.ListLoans(ctx, engine.LoanFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, loans, 2)

	loans, err = store.ListLoans(ctx, engine.LoanFilter{Status: engine.LoanPaid})
	require.NoError(t, err)
	assert.Empty(t, loans)
}
