/*
projection.go - Read-only views over the ledger

PURPOSE:
  Builds the loan, customer, dashboard and audit views the bridge layer
  renders. Projections never mutate state: fraud flags and aggregates are
  recomputed from the store on every read.

PRIVACY:
  The borrower's full national ID is visible only to managers and admins;
  everyone else sees the masked form. The masked form is always present so
  screens never have to mask client-side.
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Projection serves read-only views. Safe to share; it holds no state
// beyond the store handle.
type Projection struct {
	store Store
}

func NewProjection(s Store) *Projection {
	return &Projection{store: s}
}

// =============================================================================
// VIEW TYPES
// =============================================================================

type CustomerView struct {
	Customer
	IDNumberVisible string // full or masked depending on the viewer's role
	IDNumberMasked  string
	CreatedByName   string
}

type PaymentView struct {
	Payment
	PaidByName string
}

type LoanView struct {
	Loan
	CustomerName       string
	CustomerIDVisible  string
	CustomerIDMasked   string
	MandateID          string
	CustomerCellPhone  string
	CustomerBenefitEnd *time.Time
	CreatedByName      string
	Payments           []PaymentView
	FraudFlags         []FraudFlag
}

type DashboardStats struct {
	TotalCustomers          int
	TotalLoans              int
	OpenLoans               int
	PaidLoans               int
	TotalOutstanding        decimal.Decimal
	QuickCloseAlerts        int
	DuplicateCustomerAlerts int
}

// =============================================================================
// NAME RESOLUTION
// =============================================================================

// userNames memoizes user id -> display name lookups within one projection
// call.
type userNames struct {
	store Store
	cache map[string]string
}

func newUserNames(s Store) *userNames {
	return &userNames{store: s, cache: map[string]string{}}
}

func (n *userNames) name(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	if cached, ok := n.cache[userID]; ok {
		return cached
	}
	name := "Unknown"
	if u, err := n.store.GetUser(ctx, userID); err == nil && u != nil {
		name = u.FullName
	}
	n.cache[userID] = name
	return name
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (p *Projection) Customers(ctx context.Context, viewer Actor) ([]*CustomerView, error) {
	customers, err := p.store.ListCustomers(ctx, false)
	if err != nil {
		return nil, err
	}
	names := newUserNames(p.store)
	views := make([]*CustomerView, 0, len(customers))
	for _, c := range customers {
		views = append(views, p.customerView(ctx, c, viewer, names))
	}
	return views, nil
}

func (p *Projection) CustomerByID(ctx context.Context, id string, viewer Actor) (*CustomerView, error) {
	c, err := p.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NotFoundf(EntityCustomer, id)
	}
	return p.customerView(ctx, c, viewer, newUserNames(p.store)), nil
}

func (p *Projection) customerView(ctx context.Context, c *Customer, viewer Actor, names *userNames) *CustomerView {
	visible := MaskIDNumber(c.IDNumber)
	if Allowed(viewer.Role, ActionViewFullID) {
		visible = c.IDNumber
	}
	return &CustomerView{
		Customer:        *c,
		IDNumberVisible: visible,
		IDNumberMasked:  MaskIDNumber(c.IDNumber),
		CreatedByName:   names.name(ctx, c.CreatedBy),
	}
}

// =============================================================================
// LOANS
// =============================================================================

// Loans lists non-archived loans, optionally filtered by status, with
// embedded payments and freshly derived fraud flags.
func (p *Projection) Loans(ctx context.Context, status LoanStatus, viewer Actor) ([]*LoanView, error) {
	loans, err := p.store.ListLoans(ctx, LoanFilter{Status: status})
	if err != nil {
		return nil, err
	}

	// Duplicate detection counts every non-archived loan per customer, not
	// just those passing the status filter.
	allLoans := loans
	if status != "" {
		allLoans, err = p.store.ListLoans(ctx, LoanFilter{})
		if err != nil {
			return nil, err
		}
	}
	perCustomer := map[string]int{}
	for _, l := range allLoans {
		perCustomer[l.CustomerID]++
	}

	names := newUserNames(p.store)
	views := make([]*LoanView, 0, len(loans))
	for _, l := range loans {
		v, err := p.loanView(ctx, l, perCustomer[l.CustomerID], viewer, names)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// LoanByID returns one loan's full view, archived or not.
func (p *Projection) LoanByID(ctx context.Context, id string, viewer Actor) (*LoanView, error) {
	loan, err := p.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, NotFoundf(EntityLoan, id)
	}
	siblings, err := p.store.ListLoans(ctx, LoanFilter{CustomerID: loan.CustomerID})
	if err != nil {
		return nil, err
	}
	return p.loanView(ctx, loan, len(siblings), viewer, newUserNames(p.store))
}

func (p *Projection) loanView(ctx context.Context, loan *Loan, customerLoanCount int, viewer Actor, names *userNames) (*LoanView, error) {
	payments, err := p.store.ListPayments(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	paymentViews := make([]PaymentView, 0, len(payments))
	for _, pay := range payments {
		paymentViews = append(paymentViews, PaymentView{
			Payment:    *pay,
			PaidByName: names.name(ctx, pay.PaidBy),
		})
	}

	v := &LoanView{
		Loan:          *loan,
		CreatedByName: names.name(ctx, loan.CreatedBy),
		Payments:      paymentViews,
		FraudFlags:    FraudFlags(loan, payments, customerLoanCount),
	}

	customer, err := p.store.GetCustomer(ctx, loan.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		v.CustomerName = customer.ClientName
		v.CustomerIDMasked = MaskIDNumber(customer.IDNumber)
		v.CustomerIDVisible = v.CustomerIDMasked
		if Allowed(viewer.Role, ActionViewFullID) {
			v.CustomerIDVisible = customer.IDNumber
		}
		v.MandateID = customer.MandateID
		v.CustomerCellPhone = customer.CellPhone
		v.CustomerBenefitEnd = customer.BenefitEndDate
	} else {
		v.CustomerName = "Unknown"
	}
	return v, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

func (p *Projection) Dashboard(ctx context.Context) (*DashboardStats, error) {
	customers, err := p.store.ListCustomers(ctx, false)
	if err != nil {
		return nil, err
	}
	loans, err := p.store.ListLoans(ctx, LoanFilter{})
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalCustomers:   len(customers),
		TotalLoans:       len(loans),
		TotalOutstanding: decimal.Zero,
	}

	perCustomer := map[string]int{}
	for _, l := range loans {
		perCustomer[l.CustomerID]++
		switch l.Status {
		case LoanOpen:
			stats.OpenLoans++
			stats.TotalOutstanding = stats.TotalOutstanding.Add(l.OutstandingBalance)
		case LoanPaid:
			stats.PaidLoans++
		}

		if l.Status == LoanPaid {
			payments, err := p.store.ListPayments(ctx, l.ID)
			if err != nil {
				return nil, err
			}
			for _, f := range FraudFlags(l, payments, 1) {
				if f == FlagQuickClose {
					stats.QuickCloseAlerts++
				}
			}
		}
	}
	for _, count := range perCustomer {
		if count > 1 {
			stats.DuplicateCustomerAlerts++
		}
	}
	stats.TotalOutstanding = Round2(stats.TotalOutstanding)
	return stats, nil
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

// AuditLogs lists entries newest-first with optional filters. Snapshots come
// back parsed.
func (p *Projection) AuditLogs(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	return p.store.ListAudit(ctx, f)
}
