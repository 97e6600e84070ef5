package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"pix_processor/internal/audit"
	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/keys"
	"pix_processor/internal/limits"
	"pix_processor/internal/processor"
	"pix_processor/internal/reconciler"
	"pix_processor/pkg/crypto"
)

const (
	// UserHeader carries the authenticated user id set by the gateway in
	// front of this service.
	UserHeader   = "X-User-ID"
	StepUpHeader = "X-Step-Up-Verified"
	// RoleHeader carries the caller's role, set by the same gateway. Admin
	// routes require AdminRole.
	RoleHeader = "X-User-Role"
	AdminRole  = "admin"

	maxWebhookBody = 1 << 20
)

type Services struct {
	Transfers  *processor.TransactionProcessor
	Keys       *keys.Directory
	Limits     *limits.Ledger
	Fraud      *processor.FraudDetector
	Audit      *audit.Chain
	Reconciler *reconciler.Reconciler
	Signer     *crypto.Signer
}

type APIHandler struct {
	svc            Services
	logger         *slog.Logger
	requestTimeout time.Duration
	now            func() time.Time
}

func NewAPIHandler(svc Services, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		svc:            svc,
		logger:         logger,
		requestTimeout: 30 * time.Second,
		now:            time.Now,
	}
}

type ErrorResponse struct {
	Error      string           `json:"error"`
	Code       string           `json:"code,omitempty"`
	Details    string           `json:"details,omitempty"`
	Constraint string           `json:"constraint,omitempty"`
	Remaining  *decimal.Decimal `json:"remaining,omitempty"`
	TransferID string           `json:"transfer_id,omitempty"`
}

// Router returns every route behind the logging middleware.
func (h *APIHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/keys", h.CreateKeyHandler).Methods(http.MethodPost)
	v1.HandleFunc("/keys", h.ListKeysHandler).Methods(http.MethodGet)
	v1.HandleFunc("/keys/resolve", h.ResolveKeyHandler).Methods(http.MethodGet)
	v1.HandleFunc("/keys/{id}", h.DeleteKeyHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/keys/{id}/primary", h.SetPrimaryKeyHandler).Methods(http.MethodPost)

	v1.HandleFunc("/transfers", h.SendTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transfers", h.ListTransfersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers/{id}/cancel", h.CancelTransferHandler).Methods(http.MethodPost)

	v1.HandleFunc("/limits", h.GetLimitsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/limits", h.UpdateLimitsHandler).Methods(http.MethodPatch)

	v1.HandleFunc("/audit/export", h.ExportAuditHandler).Methods(http.MethodGet)
	v1.HandleFunc("/audit/verify", h.VerifyAuditHandler).Methods(http.MethodGet)

	v1.HandleFunc("/alerts", h.ListAlertsHandler).Methods(http.MethodGet)

	v1.HandleFunc("/webhooks/settlement", h.WebhookHandler).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireRole(AdminRole))
	admin.HandleFunc("/alerts/{id}", h.UpdateAlertHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/users/{id}/block", h.BlockUserHandler).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/unblock", h.UnblockUserHandler).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/risk", h.GetRiskProfileHandler).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/risk", h.SetRiskScoreHandler).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/keys", h.DeactivateUserKeysHandler).Methods(http.MethodDelete)

	router.Use(loggingMiddleware(h.logger))
	return router
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC(),
	}, http.StatusOK)
}

type CreateKeyRequest struct {
	Type      domain.KeyType `json:"type"`
	Value     string         `json:"value,omitempty"`
	IsPrimary bool           `json:"is_primary"`
}

func (h *APIHandler) CreateKeyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req CreateKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	key, err := h.svc.Keys.Create(ctx, userID, req.Type, req.Value, req.IsPrimary)
	if err != nil {
		h.sendServiceError(w, err, "create key")
		return
	}
	h.sendJSON(w, key, http.StatusCreated)
}

func (h *APIHandler) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	owned, err := h.svc.Keys.List(ctx, userID)
	if err != nil {
		h.sendServiceError(w, err, "list keys")
		return
	}
	h.sendJSON(w, owned, http.StatusOK)
}

func (h *APIHandler) ResolveKeyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, _, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	value := r.URL.Query().Get("value")
	if value == "" {
		h.sendError(w, "Key value is required", http.StatusBadRequest, "MISSING_VALUE")
		return
	}

	resolution, err := h.svc.Keys.Resolve(ctx, value)
	if err != nil {
		h.sendServiceError(w, err, "resolve key")
		return
	}
	h.sendJSON(w, resolution, http.StatusOK)
}

func (h *APIHandler) DeleteKeyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	if err := h.svc.Keys.Delete(ctx, userID, mux.Vars(r)["id"]); err != nil {
		h.sendServiceError(w, err, "delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SetPrimaryKeyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	if err := h.svc.Keys.SetPrimary(ctx, userID, mux.Vars(r)["id"]); err != nil {
		h.sendServiceError(w, err, "set primary key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SendTransferRequest struct {
	SenderKeyID       string          `json:"sender_key_id,omitempty"`
	ReceiverKey       string          `json:"receiver_key"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
	ScheduledFor      *time.Time      `json:"scheduled_for,omitempty"`
	DeviceFingerprint string          `json:"device_fingerprint,omitempty"`
}

func (h *APIHandler) SendTransferHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var req SendTransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	stepUp, _ := strconv.ParseBool(r.Header.Get(StepUpHeader))
	transfer, err := h.svc.Transfers.SendTransfer(ctx, processor.TransferRequest{
		SenderUserID:      userID,
		SenderKeyID:       req.SenderKeyID,
		ReceiverKey:       req.ReceiverKey,
		Amount:            req.Amount,
		Description:       req.Description,
		ScheduledFor:      req.ScheduledFor,
		DeviceFingerprint: req.DeviceFingerprint,
		StepUpVerified:    stepUp,
	})
	if err != nil {
		h.sendTransferError(w, transfer, err)
		return
	}

	status := http.StatusCreated
	if transfer.Status == domain.StatusProcessing {
		status = http.StatusAccepted
	}
	h.sendJSON(w, transfer, status)
}

func (h *APIHandler) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transfers, err := h.svc.Transfers.ListTransfers(ctx, userID, limit, offset)
	if err != nil {
		h.sendServiceError(w, err, "list transfers")
		return
	}
	h.sendJSON(w, transfers, http.StatusOK)
}

func (h *APIHandler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	transfer, err := h.svc.Transfers.GetTransfer(ctx, userID, mux.Vars(r)["id"])
	if err != nil {
		h.sendServiceError(w, err, "get transfer")
		return
	}
	h.sendJSON(w, transfer, http.StatusOK)
}

func (h *APIHandler) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	transfer, err := h.svc.Transfers.CancelScheduled(ctx, userID, mux.Vars(r)["id"])
	if err != nil {
		h.sendServiceError(w, err, "cancel transfer")
		return
	}
	h.sendJSON(w, transfer, http.StatusOK)
}

func (h *APIHandler) GetLimitsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	raw := r.URL.Query().Get("amount")
	if raw == "" {
		window, err := h.svc.Limits.GetOrCreate(ctx, userID)
		if err != nil {
			h.sendServiceError(w, err, "get limits")
			return
		}
		h.sendJSON(w, window, http.StatusOK)
		return
	}

	// With an amount, the caller asks whether a transfer of that size fits.
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		h.sendServiceError(w, apperrors.NewValidationError("amount", "must be a positive number"), "check limits")
		return
	}
	window, err := h.svc.Limits.CanTransact(ctx, userID, amount, h.svc.Limits.IsNightWindow(h.now()))
	if err != nil {
		h.sendServiceError(w, err, "check limits")
		return
	}
	h.sendJSON(w, window, http.StatusOK)
}

func (h *APIHandler) UpdateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	var update limits.Update
	if !h.decode(w, r, &update) {
		return
	}

	window, err := h.svc.Limits.UpdateLimits(ctx, userID, update)
	if err != nil {
		h.sendServiceError(w, err, "update limits")
		return
	}
	h.sendJSON(w, window, http.StatusOK)
}

func (h *APIHandler) ExportAuditHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		h.sendError(w, "from must be an RFC 3339 timestamp", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		h.sendError(w, "to must be an RFC 3339 timestamp", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	export, err := h.svc.Audit.ExportChain(ctx, userID, from, to)
	if err != nil {
		h.sendServiceError(w, err, "export audit chain")
		return
	}
	h.sendJSON(w, export, http.StatusOK)
}

func (h *APIHandler) VerifyAuditHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	verification, err := h.svc.Audit.VerifyChain(ctx, userID)
	if err != nil {
		h.sendServiceError(w, err, "verify audit chain")
		return
	}
	h.sendJSON(w, verification, http.StatusOK)
}

func (h *APIHandler) ListAlertsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	defer cancel()

	alerts, err := h.svc.Fraud.ListAlerts(ctx, userID)
	if err != nil {
		h.sendServiceError(w, err, "list alerts")
		return
	}
	h.sendJSON(w, alerts, http.StatusOK)
}

type WebhookResponse struct {
	ID      string                `json:"id"`
	Outcome domain.WebhookOutcome `json:"outcome"`
}

// WebhookHandler accepts settlement events from the payment network. The body
// must be signed with the shared webhook secret.
func (h *APIHandler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	if valid, err := h.svc.Signer.VerifyWebhook(body, r.Header.Get(crypto.SignatureHeader)); err != nil || !valid {
		h.sendError(w, "Invalid signature", http.StatusUnauthorized, "INVALID_SIGNATURE")
		return
	}

	var event domain.SettlementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	record, err := h.svc.Reconciler.Process(ctx, event, body)
	if err != nil {
		h.sendServiceError(w, err, "process webhook")
		return
	}

	status := http.StatusOK
	if record.Outcome == domain.OutcomeFailed {
		status = http.StatusAccepted
	}
	h.sendJSON(w, WebhookResponse{ID: record.ID, Outcome: record.Outcome}, status)
}

type UpdateAlertRequest struct {
	Status domain.AlertStatus `json:"status"`
}

func (h *APIHandler) UpdateAlertHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req UpdateAlertRequest
	if !h.decode(w, r, &req) {
		return
	}

	alert, err := h.svc.Fraud.UpdateAlertStatus(ctx, mux.Vars(r)["id"], req.Status)
	if err != nil {
		h.sendServiceError(w, err, "update alert")
		return
	}
	h.sendJSON(w, alert, http.StatusOK)
}

type BlockUserRequest struct {
	Reason string `json:"reason"`
}

func (h *APIHandler) BlockUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req BlockUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.Fraud.Block(ctx, mux.Vars(r)["id"], req.Reason); err != nil {
		h.sendServiceError(w, err, "block user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) UnblockUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if err := h.svc.Fraud.Unblock(ctx, mux.Vars(r)["id"]); err != nil {
		h.sendServiceError(w, err, "unblock user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) GetRiskProfileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	profile, err := h.svc.Fraud.GetProfile(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendServiceError(w, err, "get risk profile")
		return
	}
	h.sendJSON(w, profile, http.StatusOK)
}

type SetRiskScoreRequest struct {
	Score int `json:"score"`
}

func (h *APIHandler) SetRiskScoreHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req SetRiskScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.Fraud.SetBaseScore(ctx, mux.Vars(r)["id"], req.Score); err != nil {
		h.sendServiceError(w, err, "set risk score")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateUserKeysHandler retires every key of a user whose account is closing.
func (h *APIHandler) DeactivateUserKeysHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	count, err := h.svc.Keys.DeactivateAll(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendServiceError(w, err, "deactivate keys")
		return
	}
	h.sendJSON(w, map[string]int{"deactivated": count}, http.StatusOK)
}

func (h *APIHandler) begin(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc, string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		h.sendError(w, "Missing user identity", http.StatusUnauthorized, "UNAUTHENTICATED")
		return nil, nil, "", false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	return ctx, cancel, userID, true
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.sendErrorResponse(w, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		}, http.StatusBadRequest)
		return false
	}
	return true
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (h *APIHandler) sendTransferError(w http.ResponseWriter, transfer *domain.Transfer, err error) {
	resp, status := h.errorResponse(err, "send transfer")
	if transfer != nil {
		resp.TransferID = transfer.ID
	}
	h.sendErrorResponse(w, resp, status)
}

func (h *APIHandler) sendServiceError(w http.ResponseWriter, err error, action string) {
	resp, status := h.errorResponse(err, action)
	h.sendErrorResponse(w, resp, status)
}

func (h *APIHandler) errorResponse(err error, action string) (ErrorResponse, int) {
	var limitErr *apperrors.LimitExceededError
	var fraudErr *apperrors.FraudBlockedError

	switch {
	case apperrors.IsValidationError(err):
		return ErrorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"}, http.StatusBadRequest
	case errors.Is(err, apperrors.ErrSelfTransfer):
		return ErrorResponse{Error: err.Error(), Code: "SELF_TRANSFER"}, http.StatusBadRequest
	case apperrors.IsInsufficientFunds(err):
		return ErrorResponse{Error: err.Error(), Code: "INSUFFICIENT_FUNDS"}, http.StatusUnprocessableEntity
	case errors.As(err, &limitErr):
		remaining := limitErr.Remaining
		return ErrorResponse{
			Error:      err.Error(),
			Code:       "LIMIT_EXCEEDED",
			Constraint: string(limitErr.Constraint),
			Remaining:  &remaining,
		}, http.StatusUnprocessableEntity
	case errors.As(err, &fraudErr):
		if fraudErr.RequiresAuth {
			return ErrorResponse{Error: err.Error(), Code: "EXTRA_AUTH_REQUIRED"}, http.StatusForbidden
		}
		return ErrorResponse{Error: "Transfer blocked by risk analysis", Code: "FRAUD_BLOCKED"}, http.StatusForbidden
	case errors.Is(err, apperrors.ErrNoSenderKey):
		return ErrorResponse{Error: err.Error(), Code: "NO_SENDER_KEY"}, http.StatusUnprocessableEntity
	case apperrors.IsSettlement(err):
		return ErrorResponse{Error: err.Error(), Code: "SETTLEMENT_FAILED"}, http.StatusBadGateway
	case apperrors.IsNotFound(err):
		return ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"}, http.StatusNotFound
	case errors.Is(err, apperrors.ErrDuplicateKey),
		errors.Is(err, apperrors.ErrKeyLimitReached),
		errors.Is(err, apperrors.ErrKeyInUse),
		errors.Is(err, apperrors.ErrNotCancellable),
		errors.Is(err, apperrors.ErrInvalidTransition):
		return ErrorResponse{Error: err.Error(), Code: "CONFLICT"}, http.StatusConflict
	case errors.Is(err, apperrors.ErrForbidden):
		return ErrorResponse{Error: err.Error(), Code: "FORBIDDEN"}, http.StatusForbidden
	default:
		h.logger.Error("Request failed",
			slog.String("action", action),
			slog.String("error", err.Error()))
		return ErrorResponse{Error: "Internal server error", Code: "SERVER_ERROR"}, http.StatusInternalServerError
	}
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	h.sendErrorResponse(w, ErrorResponse{Error: message, Code: code}, statusCode)
}

func (h *APIHandler) sendErrorResponse(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	h.sendJSON(w, resp, statusCode)
	h.logger.Warn("API error response",
		slog.String("message", resp.Error),
		slog.String("code", resp.Code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) requireRole(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(RoleHeader) != role {
				h.sendError(w, "Insufficient role", http.StatusForbidden, "FORBIDDEN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.InfoContext(r.Context(), "HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
