package handlers

import (
	"context"
	"net/http"

	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/security"
	"github.com/clearspend/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BusinessOperations interface {
	RetrieveBusinessAccounts(ctx context.Context, perms security.Permissions, businessID uuid.UUID) ([]*models.Account, error)
	ReallocateBusinessFunds(ctx context.Context, perms security.Permissions, businessID, fromAccountID, toAccountID uuid.UUID, amount models.Amount) (*services.AccountReallocateFundsRecord, error)
	RetrieveBusinessSettings(ctx context.Context, perms security.Permissions, businessID uuid.UUID) (*models.BusinessSettings, error)
	UpdateBusinessSettings(ctx context.Context, perms security.Permissions, settings *models.BusinessSettings) error
}

type NegativeBalanceVerifier interface {
	VerifyBusinessNegativeBalance(ctx context.Context, perms security.Permissions, businessID uuid.UUID) (*services.VerificationResult, error)
}

type BusinessHandler struct {
	businesses BusinessOperations
	negative   NegativeBalanceVerifier
	validator  *ValidationHelper
	logger     *zap.Logger
}

func NewBusinessHandler(businesses BusinessOperations, negative NegativeBalanceVerifier, logger *zap.Logger) *BusinessHandler {
	return &BusinessHandler{
		businesses: businesses,
		negative:   negative,
		validator:  NewValidationHelper(),
		logger:     logger,
	}
}

// Routes mounts the business endpoints under /businesses/{businessId}.
func (h *BusinessHandler) Routes(r chi.Router) {
	r.Route("/businesses/{businessId}", func(r chi.Router) {
		r.Get("/accounts", h.ListAccounts)
		r.Post("/reallocations", h.Reallocate)
		r.Post("/negative-balance/verify", h.VerifyNegativeBalance)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})
}

type reallocateRequest struct {
	FromAccountID string `json:"fromAccountId" validate:"required,uuid"`
	ToAccountID   string `json:"toAccountId" validate:"required,uuid"`
	Amount        string `json:"amount" validate:"required,numeric"`
	Currency      string `json:"currency" validate:"required,len=3,uppercase"`
}

// ListAccounts returns the business's accounts with ledger and available balances
// @Summary List business accounts
// @Tags Businesses
// @Produce json
// @Security BearerAuth
// @Param businessId path string true "Business ID"
// @Success 200 {array} models.Account
// @Failure 403 {object} handlers.ErrorResponse
// @Router /businesses/{businessId}/accounts [get]
func (h *BusinessHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	perms, businessID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	accounts, err := h.businesses.RetrieveBusinessAccounts(r.Context(), perms, businessID)
	if err != nil {
		sendServiceError(w, h.logger, err)
		return
	}
	SendJSON(w, http.StatusOK, accounts)
}

// Reallocate moves funds between two accounts of the business
// @Summary Reallocate funds
// @Tags Businesses
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param businessId path string true "Business ID"
// @Param request body handlers.reallocateRequest true "Reallocation"
// @Success 200 {object} services.AccountReallocateFundsRecord
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 422 {object} handlers.ErrorResponse
// @Router /businesses/{businessId}/reallocations [post]
func (h *BusinessHandler) Reallocate(w http.ResponseWriter, r *http.Request) {
	perms, businessID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req reallocateRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}
	value, err := decimal.NewFromString(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	record, err := h.businesses.ReallocateBusinessFunds(r.Context(), perms, businessID,
		uuid.MustParse(req.FromAccountID), uuid.MustParse(req.ToAccountID),
		models.NewAmount(models.Currency(req.Currency), value))
	if err != nil {
		sendServiceError(w, h.logger, err)
		return
	}
	SendJSON(w, http.StatusOK, record)
}

// VerifyNegativeBalance runs the negative balance check for the business now
// @Summary Verify negative balance
// @Tags Businesses
// @Produce json
// @Security BearerAuth
// @Param businessId path string true "Business ID"
// @Success 200 {object} services.VerificationResult
// @Failure 403 {object} handlers.ErrorResponse
// @Router /businesses/{businessId}/negative-balance/verify [post]
func (h *BusinessHandler) VerifyNegativeBalance(w http.ResponseWriter, r *http.Request) {
	perms, businessID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	result, err := h.negative.VerifyBusinessNegativeBalance(r.Context(), perms, businessID)
	if err != nil {
		sendServiceError(w, h.logger, err)
		return
	}
	SendJSON(w, http.StatusOK, result)
}

func (h *BusinessHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	perms, businessID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	settings, err := h.businesses.RetrieveBusinessSettings(r.Context(), perms, businessID)
	if err != nil {
		sendServiceError(w, h.logger, err)
		return
	}
	SendJSON(w, http.StatusOK, settings)
}

// UpdateSettings replaces the business's velocity limits. The business id in the body, if any,
// is ignored in favour of the path.
func (h *BusinessHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	perms, businessID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var settings models.BusinessSettings
	if !h.validator.DecodeJSON(w, r, &settings) {
		return
	}
	settings.BusinessID = businessID

	if err := h.businesses.UpdateBusinessSettings(r.Context(), perms, &settings); err != nil {
		sendServiceError(w, h.logger, err)
		return
	}
	SendJSON(w, http.StatusOK, &settings)
}

func (h *BusinessHandler) requestScope(w http.ResponseWriter, r *http.Request) (security.Permissions, uuid.UUID, bool) {
	perms, ok := security.FromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return security.Permissions{}, uuid.Nil, false
	}

	businessID, err := uuid.Parse(chi.URLParam(r, "businessId"))
	if err != nil {
		SendErrorResponse(w, "Invalid business id", http.StatusBadRequest, nil)
		return security.Permissions{}, uuid.Nil, false
	}
	return perms, businessID, true
}
