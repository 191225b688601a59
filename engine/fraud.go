/*
fraud.go - Derived fraud heuristics

Flags are recomputed on every read of loan lists and details. They are
never persisted, so tightening a heuristic retroactively re-evaluates the
whole book.

QUICK_CLOSE: the loan is paid and its creation date equals the calendar
date of its most recently settled installment. Compared as UTC calendar
dates, not timestamp string prefixes.

DUPLICATE_CUSTOMER: the customer holds more than one non-archived loan.
Normal creation forbids a second open loan, so this is only observable
after an administrative override has bypassed the cap.
*/
package engine

import "time"

type FraudFlag string

const (
	FlagQuickClose        FraudFlag = "QUICK_CLOSE"
	FlagDuplicateCustomer FraudFlag = "DUPLICATE_CUSTOMER"
)

// FraudFlags evaluates the heuristics for one loan. customerLoanCount is the
// number of non-archived loans currently held by the loan's customer,
// including this one.
func FraudFlags(loan *Loan, payments []*Payment, customerLoanCount int) []FraudFlag {
	flags := []FraudFlag{}

	if loan.Status == LoanPaid {
		var latest *time.Time
		for _, p := range payments {
			if p.PaidAt == nil {
				continue
			}
			if latest == nil || p.PaidAt.After(*latest) {
				latest = p.PaidAt
			}
		}
		if latest != nil && SameCalendarDay(loan.CreatedAt, *latest) {
			flags = append(flags, FlagQuickClose)
		}
	}

	if customerLoanCount > 1 {
		flags = append(flags, FlagDuplicateCustomer)
	}

	return flags
}
