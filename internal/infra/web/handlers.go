package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/znomio18-svg/backend-api/internal/domain"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/usecase"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinels to HTTP statuses. Unknown errors
// stay opaque.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrActiveSubscription),
		errors.Is(err, domain.ErrMovieAlreadyPurchased),
		errors.Is(err, domain.ErrPaymentNotPending),
		errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPlanUnavailable),
		errors.Is(err, domain.ErrMovieNotPurchasable),
		errors.Is(err, domain.ErrWrongPaymentChannel):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type qpayDetails struct {
	InvoiceID string           `json:"invoice_id"`
	QRText    string           `json:"qr_text,omitempty"`
	QRImage   string           `json:"qr_image,omitempty"`
	Deeplinks []model.Deeplink `json:"deeplinks,omitempty"`
}

type bankDetails struct {
	BankAccountID  string     `json:"bank_account_id"`
	TransferRef    string     `json:"transfer_ref"`
	UserNotifiedAt *time.Time `json:"user_notified_at,omitempty"`
}

type paymentResponse struct {
	ID          string       `json:"id"`
	InvoiceCode string       `json:"invoice_code"`
	PlanID      *string      `json:"plan_id,omitempty"`
	MovieID     *string      `json:"movie_id,omitempty"`
	Amount      int64        `json:"amount"`
	Method      string       `json:"method"`
	Status      string       `json:"status"`
	QPay        *qpayDetails `json:"qpay,omitempty"`
	Bank        *bankDetails `json:"bank,omitempty"`
	PaidAt      *time.Time   `json:"paid_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:          p.ID,
		InvoiceCode: p.InvoiceCode,
		PlanID:      p.PlanID,
		MovieID:     p.MovieID,
		Amount:      p.Amount,
		Method:      string(p.Method),
		Status:      string(p.Status),
		PaidAt:      p.PaidAt,
		CreatedAt:   p.CreatedAt,
	}
	if p.QPayInvoiceID != nil {
		resp.QPay = &qpayDetails{
			InvoiceID: *p.QPayInvoiceID,
			QRText:    p.QPayQRText,
			QRImage:   p.QPayQRImage,
			Deeplinks: p.QPayDeeplinks,
		}
	}
	if p.BankAccountID != nil {
		resp.Bank = &bankDetails{
			BankAccountID:  *p.BankAccountID,
			TransferRef:    p.TransferRef,
			UserNotifiedAt: p.UserNotifiedAt,
		}
	}
	return resp
}

type reconcileResponse struct {
	Action  string           `json:"action"`
	Reason  string           `json:"reason,omitempty"`
	Payment *paymentResponse `json:"payment,omitempty"`
}

func toReconcileResponse(res *usecase.ReconcileResult) reconcileResponse {
	resp := reconcileResponse{Action: string(res.Action), Reason: res.Reason}
	if res.Payment != nil {
		p := toPaymentResponse(res.Payment)
		resp.Payment = &p
	}
	return resp
}

type createPaymentRequest struct {
	PlanID        *string `json:"plan_id"`
	MovieID       *string `json:"movie_id"`
	Method        string  `json:"method"`
	BankAccountID *string `json:"bank_account_id"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Method == "" {
		req.Method = string(model.PaymentMethodQPay)
	}
	p, err := s.paymentUC.CreatePayment(r.Context(), usecase.CreatePaymentInput{
		UserID:        r.Header.Get("X-User-ID"),
		PlanID:        req.PlanID,
		MovieID:       req.MovieID,
		Method:        model.PaymentMethod(req.Method),
		BankAccountID: req.BankAccountID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.paymentUC.GetPayment(r.Context(), r.Header.Get("X-User-ID"), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleCheckPayment(w http.ResponseWriter, r *http.Request) {
	res, err := s.paymentUC.CheckPayment(r.Context(), r.Header.Get("X-User-ID"), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(res))
}

func (s *Server) handleNotifyPaid(w http.ResponseWriter, r *http.Request) {
	p, err := s.paymentUC.NotifyTransferPaid(r.Context(), r.Header.Get("X-User-ID"), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleListBankAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.paymentUC.ListBankAccounts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type accountResponse struct {
		ID            string `json:"id"`
		BankName      string `json:"bank_name"`
		AccountNumber string `json:"account_number"`
		AccountHolder string `json:"account_holder"`
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID:            a.ID,
			BankName:      a.BankName,
			AccountNumber: a.AccountNumber,
			AccountHolder: a.AccountHolder,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

// handleWebhook accepts the gateway callback on both verbs: GET with an
// ?invoice= query, POST with a JSON body carrying invoice or invoice_id.
// With a webhook secret configured the signature header is mandatory; it
// covers the raw body for POST and the invoice reference for GET.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var invoiceCode string
	var rawBody []byte

	switch r.Method {
	case http.MethodGet:
		invoiceCode = r.URL.Query().Get("invoice")
		rawBody = []byte(invoiceCode)
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		rawBody = body
		var req struct {
			Invoice   string `json:"invoice"`
			InvoiceID string `json:"invoice_id"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		invoiceCode = req.Invoice
		if invoiceCode == "" {
			invoiceCode = req.InvoiceID
		}
	}
	if invoiceCode == "" {
		writeError(w, http.StatusBadRequest, "missing invoice reference")
		return
	}

	if !s.gateway.VerifyWebhookSignature(rawBody, r.Header.Get("X-Signature")) {
		s.log.Warn().Str("invoice_code", invoiceCode).Msg("webhook signature rejected")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	res, err := s.paymentUC.HandleWebhook(r.Context(), invoiceCode, rawBody)
	if err != nil {
		// Non-2xx makes the gateway redeliver, which is what we want for
		// transient failures.
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(res))
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.auth.CheckPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	res, err := s.paymentUC.ConfirmBankTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(res))
}

func (s *Server) handleRejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.paymentUC.RejectBankTransfer(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}
