/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the bridge surface. These decouple the engine's
  domain model from the wire contract: currency values travel as
  2-decimal strings, timestamps as RFC 3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Business validation lives in the engine. Handlers only parse.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasigo/loanbook/engine"
)

// =============================================================================
// COMMON
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func stampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return stamp(*t)
}

// =============================================================================
// AUTH / USERS
// =============================================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type MasterPasswordRequest struct {
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Branch   string `json:"branch"`
}

type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	Branch    string `json:"branch"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

func toUserDTO(u *engine.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      string(u.Role),
		Branch:    u.Branch,
		IsActive:  u.IsActive,
		CreatedAt: stamp(u.CreatedAt),
	}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CreateCustomerRequest struct {
	ClientName     string `json:"client_name"`
	IDNumber       string `json:"id_number"`
	MandateID      string `json:"mandate_id"`
	CellPhone      string `json:"cell_phone,omitempty"`
	BenefitEndDate string `json:"benefit_end_date,omitempty"` // YYYY-MM-DD
}

type CustomerDTO struct {
	ID             string `json:"id"`
	ClientName     string `json:"client_name"`
	IDNumber       string `json:"id_number"` // masked for low-privilege viewers
	IDNumberMasked string `json:"id_number_masked"`
	MandateID      string `json:"mandate_id"`
	CellPhone      string `json:"cell_phone,omitempty"`
	BenefitEndDate string `json:"benefit_end_date,omitempty"`
	CreatedAt      string `json:"created_at"`
	CreatedBy      string `json:"created_by"`
	CreatedByName  string `json:"created_by_name"`
	ArchivedAt     string `json:"archived_at,omitempty"`
	ArchivedBy     string `json:"archived_by,omitempty"`
}

func toCustomerDTO(v *engine.CustomerView) CustomerDTO {
	return CustomerDTO{
		ID:             v.ID,
		ClientName:     v.ClientName,
		IDNumber:       v.IDNumberVisible,
		IDNumberMasked: v.IDNumberMasked,
		MandateID:      v.MandateID,
		CellPhone:      v.CellPhone,
		BenefitEndDate: datePtr(v.BenefitEndDate),
		CreatedAt:      stamp(v.CreatedAt),
		CreatedBy:      v.CreatedBy,
		CreatedByName:  v.CreatedByName,
		ArchivedAt:     stampPtr(v.ArchivedAt),
		ArchivedBy:     v.ArchivedBy,
	}
}

func datePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// =============================================================================
// LOANS
// =============================================================================

type CreateLoanRequest struct {
	CustomerID        string          `json:"customer_id"`
	PrincipalAmount   decimal.Decimal `json:"principal_amount"`
	RepaymentPlanCode int             `json:"repayment_plan_code"`
	LoanDate          string          `json:"loan_date"` // YYYY-MM-DD
}

type PaymentDTO struct {
	ID                string `json:"id"`
	LoanID            string `json:"loan_id"`
	InstallmentNumber int    `json:"installment_number"`
	AmountDue         string `json:"amount_due"`
	DueDate           string `json:"due_date"`
	IsPaid            bool   `json:"is_paid"`
	PaidAt            string `json:"paid_at,omitempty"`
	PaidBy            string `json:"paid_by,omitempty"`
	PaidByName        string `json:"paid_by_name,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type LoanDTO struct {
	ID                 string       `json:"id"`
	CustomerID         string       `json:"customer_id"`
	CustomerName       string       `json:"customer_name"`
	CustomerIDNumber   string       `json:"customer_id_number"`
	CustomerIDMasked   string       `json:"customer_id_number_masked"`
	MandateID          string       `json:"mandate_id"`
	CustomerCellPhone  string       `json:"customer_cell_phone,omitempty"`
	CustomerBenefitEnd string       `json:"customer_benefit_end_date,omitempty"`
	LoanDate           string       `json:"loan_date"`
	PrincipalAmount    string       `json:"principal_amount"`
	InterestRate       string       `json:"interest_rate"`
	ServiceFee         string       `json:"service_fee"`
	TotalRepayable     string       `json:"total_repayable"`
	RepaymentPlanCode  int          `json:"repayment_plan_code"`
	InstallmentAmount  string       `json:"installment_amount"`
	OutstandingBalance string       `json:"outstanding_balance"`
	Status             string       `json:"status"`
	FieldsLocked       bool         `json:"fields_locked"`
	CreatedAt          string       `json:"created_at"`
	CreatedBy          string       `json:"created_by"`
	CreatedByName      string       `json:"created_by_name"`
	ArchivedAt         string       `json:"archived_at,omitempty"`
	Payments           []PaymentDTO `json:"payments"`
	FraudFlags         []string     `json:"fraud_flags"`
}

func toLoanDTO(v *engine.LoanView) LoanDTO {
	payments := make([]PaymentDTO, 0, len(v.Payments))
	for _, p := range v.Payments {
		payments = append(payments, PaymentDTO{
			ID:                p.ID,
			LoanID:            p.LoanID,
			InstallmentNumber: p.InstallmentNumber,
			AmountDue:         money(p.AmountDue),
			DueDate:           stamp(p.DueDate),
			IsPaid:            p.IsPaid,
			PaidAt:            stampPtr(p.PaidAt),
			PaidBy:            p.PaidBy,
			PaidByName:        p.PaidByName,
			CreatedAt:         stamp(p.CreatedAt),
		})
	}
	flags := make([]string, 0, len(v.FraudFlags))
	for _, f := range v.FraudFlags {
		flags = append(flags, string(f))
	}
	return LoanDTO{
		ID:                 v.ID,
		CustomerID:         v.CustomerID,
		CustomerName:       v.CustomerName,
		CustomerIDNumber:   v.CustomerIDVisible,
		CustomerIDMasked:   v.CustomerIDMasked,
		MandateID:          v.MandateID,
		CustomerCellPhone:  v.CustomerCellPhone,
		CustomerBenefitEnd: datePtr(v.CustomerBenefitEnd),
		LoanDate:           v.LoanDate.UTC().Format("2006-01-02"),
		PrincipalAmount:    money(v.PrincipalAmount),
		InterestRate:       v.InterestRate.String(),
		ServiceFee:         money(v.ServiceFee),
		TotalRepayable:     money(v.TotalRepayable),
		RepaymentPlanCode:  int(v.RepaymentPlanCode),
		InstallmentAmount:  money(v.InstallmentAmount),
		OutstandingBalance: money(v.OutstandingBalance),
		Status:             string(v.Status),
		FieldsLocked:       v.FieldsLocked,
		CreatedAt:          stamp(v.CreatedAt),
		CreatedBy:          v.CreatedBy,
		CreatedByName:      v.CreatedByName,
		ArchivedAt:         stampPtr(v.ArchivedAt),
		Payments:           payments,
		FraudFlags:         flags,
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

type MarkPaymentRequest struct {
	LoanID            string `json:"loan_id"`
	InstallmentNumber int    `json:"installment_number"`
}

type PaymentResultDTO struct {
	Message    string `json:"message"`
	NewBalance string `json:"new_balance"`
	LoanStatus string `json:"loan_status"`
}

type ArchiveRequest struct {
	EntityType string `json:"entity_type"` // customer | loan
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason"`
}

type OverrideFieldRequest struct {
	LoanID    string `json:"loan_id"`
	FieldName string `json:"field_name"`
	NewValue  string `json:"new_value"`
	Reason    string `json:"reason"`
}

type SettingsDTO struct {
	ExportFolderPath string `json:"export_folder_path"`
	BranchName       string `json:"branch_name"`
}

type UpdateSettingsRequest struct {
	ExportFolderPath *string `json:"export_folder_path,omitempty"`
	BranchName       *string `json:"branch_name,omitempty"`
}

type DashboardDTO struct {
	TotalCustomers          int    `json:"total_customers"`
	TotalLoans              int    `json:"total_loans"`
	OpenLoans               int    `json:"open_loans"`
	PaidLoans               int    `json:"paid_loans"`
	TotalOutstanding        string `json:"total_outstanding"`
	QuickCloseAlerts        int    `json:"quick_close_alerts"`
	DuplicateCustomerAlerts int    `json:"duplicate_customer_alerts"`
}

type AuditLogDTO struct {
	ID            string         `json:"id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Action        string         `json:"action"`
	Before        map[string]any `json:"before_json,omitempty"`
	After         map[string]any `json:"after_json,omitempty"`
	ActorUserID   string         `json:"actor_user_id"`
	ActorName     string         `json:"actor_name"`
	Reason        string         `json:"reason,omitempty"`
	CreatedAt     string         `json:"created_at"`
	IntegrityHash string         `json:"integrity_hash"`
}

func toAuditLogDTO(e *engine.AuditEntry) AuditLogDTO {
	return AuditLogDTO{
		ID:            e.ID,
		EntityType:    string(e.EntityType),
		EntityID:      e.EntityID,
		Action:        string(e.Action),
		Before:        e.Before,
		After:         e.After,
		ActorUserID:   e.ActorUserID,
		ActorName:     e.ActorName,
		Reason:        e.Reason,
		CreatedAt:     stamp(e.CreatedAt),
		IntegrityHash: e.IntegrityHash,
	}
}
