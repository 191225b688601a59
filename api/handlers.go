/*
handlers.go - HTTP handlers for the loan book engine

PURPOSE:
  Exposes the lifecycle engine, projections, identity and audit chain via
  REST. Handlers parse, resolve the acting staff member, delegate to the
  engine, and serialize. No business rules live here.

ACTOR RESOLUTION:
  Session management is out of scope for the engine; the desktop shell
  supplies the acting staff id in the X-Actor-ID header. The handler
  resolves it to an active user before any engine call. Login and
  master-password endpoints are the only ones that skip this.

ERROR HANDLING:
  Engine errors map onto HTTP statuses by category:
  - 400: validation (bad ID checksum, short reason, invalid plan)
  - 403: role lacks the capability
  - 404: missing customer/loan/payment/user
  - 409: conflict (duplicate customer, open loan, locked payment)
  - 500: everything else

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kasigo/loanbook/engine"
)

// actorHeader carries the resolved staff id from the bridge layer.
const actorHeader = "X-Actor-ID"

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *engine.Engine
	Identity   *engine.Identity
	Projection *engine.Projection
	Store      engine.Store
	Log        zerolog.Logger
}

func NewHandler(store engine.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:     engine.New(store, log),
		Identity:   engine.NewIdentity(store),
		Projection: engine.NewProjection(store),
		Store:      store,
		Log:        log,
	}
}

// actor resolves the acting user or writes a 401. The bool reports success.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (engine.Actor, bool) {
	id := r.Header.Get(actorHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+actorHeader+" header", nil)
		return engine.Actor{}, false
	}
	actor, err := h.Identity.ActorFor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unknown or inactive user", err)
		return engine.Actor{}, false
	}
	return actor, true
}

// =============================================================================
// AUTH / MASTER PASSWORD
// =============================================================================

// Login verifies a username/password pair.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	user, err := h.Identity.VerifyCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// MasterPasswordStatus reports whether the master secret is configured.
// GET /api/master-password/status
func (h *Handler) MasterPasswordStatus(w http.ResponseWriter, r *http.Request) {
	set, err := h.Identity.MasterPasswordSet(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read master password status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_set": set})
}

// SetupMasterPassword sets the master secret and bootstraps the first admin.
// POST /api/master-password/setup
func (h *Handler) SetupMasterPassword(w http.ResponseWriter, r *http.Request) {
	var req MasterPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	boot, err := h.Identity.SetupMasterPassword(r.Context(), req.Password)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Master password set successfully",
		"default_admin": map[string]string{
			"username": boot.Username,
			"password": boot.Password,
		},
	})
}

// VerifyMasterPassword unlocks the app.
// POST /api/master-password/verify
func (h *Handler) VerifyMasterPassword(w http.ResponseWriter, r *http.Request) {
	var req MasterPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Identity.VerifyMasterPassword(r.Context(), req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid master password", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

// =============================================================================
// USERS
// =============================================================================

// ListUsers returns all staff accounts. Admin only.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	users, err := h.Identity.ListUsers(r.Context(), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser adds a staff account. Admin only.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	user, err := h.Identity.CreateUser(r.Context(), engine.CreateUserInput{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
		Role:     engine.Role(req.Role),
		Branch:   req.Branch,
	}, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// ToggleUserActive flips an account's active flag. Admin only.
// PUT /api/users/{id}/toggle-active
func (h *Handler) ToggleUserActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	newState, err := h.Identity.ToggleUserActive(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_active": newState})
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// ListCustomers returns all active customers.
// GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	views, err := h.Projection.Customers(r.Context(), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]CustomerDTO, 0, len(views))
	for _, v := range views {
		dtos = append(dtos, toCustomerDTO(v))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomer returns one customer.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	view, err := h.Projection.CustomerByID(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(view))
}

// CreateCustomer registers a borrower.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input := engine.CreateCustomerInput{
		ClientName: req.ClientName,
		IDNumber:   req.IDNumber,
		MandateID:  req.MandateID,
		CellPhone:  req.CellPhone,
	}
	if req.BenefitEndDate != "" {
		d, err := time.Parse("2006-01-02", req.BenefitEndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "benefit_end_date must be YYYY-MM-DD", err)
			return
		}
		input.BenefitEndDate = &d
	}

	customer, err := h.Engine.CreateCustomer(r.Context(), input, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view, err := h.Projection.CustomerByID(r.Context(), customer.ID, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(view))
}

// =============================================================================
// LOANS
// =============================================================================

// ListLoans returns non-archived loans with payments and fraud flags.
// GET /api/loans?status=open|paid
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	status := engine.LoanStatus(r.URL.Query().Get("status"))
	if status != "" && status != engine.LoanOpen && status != engine.LoanPaid {
		writeEngineError(w, engine.Validationf("status", "must be open or paid"))
		return
	}
	views, err := h.Projection.Loans(r.Context(), status, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]LoanDTO, 0, len(views))
	for _, v := range views {
		dtos = append(dtos, toLoanDTO(v))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoan returns one loan's full view.
// GET /api/loans/{id}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	view, err := h.Projection.LoanByID(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(view))
}

// CreateLoan books a loan and its payment schedule.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	loanDate, err := time.Parse("2006-01-02", req.LoanDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "loan_date must be YYYY-MM-DD", err)
		return
	}

	loan, err := h.Engine.CreateLoan(r.Context(), engine.CreateLoanInput{
		CustomerID: req.CustomerID,
		Principal:  req.PrincipalAmount,
		Plan:       engine.RepaymentPlan(req.RepaymentPlanCode),
		LoanDate:   loanDate,
	}, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      loan.ID,
		"message": "Loan created successfully",
	})
}

// OverrideLoanField rewrites one locked field. Manager/admin only.
// POST /api/loans/override-field
func (h *Handler) OverrideLoanField(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req OverrideFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := h.Engine.OverrideLoanField(r.Context(), engine.OverrideFieldInput{
		LoanID:    req.LoanID,
		FieldName: req.FieldName,
		NewValue:  req.NewValue,
		Reason:    req.Reason,
	}, actor); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Field " + req.FieldName + " updated successfully",
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

// MarkPaymentPaid settles one installment.
// POST /api/payments/mark-paid
func (h *Handler) MarkPaymentPaid(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req MarkPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := h.Engine.MarkPaymentPaid(r.Context(), req.LoanID, req.InstallmentNumber, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentResultDTO{
		Message:    "Payment marked as paid",
		NewBalance: result.NewBalance.StringFixed(2),
		LoanStatus: string(result.LoanStatus),
	})
}

// UnmarkPaymentPaid reverses a settled installment where permitted.
// POST /api/payments/unmark-paid
func (h *Handler) UnmarkPaymentPaid(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req MarkPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	result, err := h.Engine.UnmarkPaymentPaid(r.Context(), req.LoanID, req.InstallmentNumber, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentResultDTO{
		Message:    "Payment unmarked",
		NewBalance: result.NewBalance.StringFixed(2),
		LoanStatus: string(result.LoanStatus),
	})
}

// =============================================================================
// ARCHIVE
// =============================================================================

// ArchiveEntity retires a customer or loan. Admin only.
// POST /api/archive
func (h *Handler) ArchiveEntity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	err := h.Engine.ArchiveEntity(r.Context(), engine.EntityType(req.EntityType), req.EntityID, req.Reason, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": req.EntityType + " archived successfully",
	})
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

// ListAuditLogs returns entries newest-first with optional filters.
// GET /api/audit-logs?entity_type=&entity_id=&actor_id=&limit=
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	filter := engine.AuditFilter{
		EntityType: engine.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	entries, err := h.Projection.AuditLogs(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]AuditLogDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditLogDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyAuditIntegrity rewalks the hash chain. Admin only.
// GET /api/audit-logs/verify-integrity
func (h *Handler) VerifyAuditIntegrity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !engine.Allowed(actor.Role, engine.ActionVerifyIntegrity) {
		writeError(w, http.StatusForbidden, "Admin role required", nil)
		return
	}
	result, err := engine.VerifyChain(r.Context(), h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify audit chain", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// SETTINGS / DASHBOARD
// =============================================================================

// GetSettings returns the typed settings record.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	settings, err := engine.GetSettings(r.Context(), h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{
		ExportFolderPath: settings.ExportFolderPath,
		BranchName:       settings.BranchName,
	})
}

// UpdateSettings applies a partial settings update. Admin only.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	err := engine.UpdateSettings(r.Context(), h.Store, engine.SettingsUpdate{
		ExportFolderPath: req.ExportFolderPath,
		BranchName:       req.BranchName,
	}, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Settings updated"})
}

// Dashboard returns counts, outstanding total, and fraud alert counts.
// GET /api/dashboard/stats
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	stats, err := h.Projection.Dashboard(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardDTO{
		TotalCustomers:          stats.TotalCustomers,
		TotalLoans:              stats.TotalLoans,
		OpenLoans:               stats.OpenLoans,
		PaidLoans:               stats.PaidLoans,
		TotalOutstanding:        stats.TotalOutstanding.StringFixed(2),
		QuickCloseAlerts:        stats.QuickCloseAlerts,
		DuplicateCustomerAlerts: stats.DuplicateCustomerAlerts,
	})
}

// Health is a liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error categories onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
