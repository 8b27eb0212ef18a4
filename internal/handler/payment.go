package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/time-capsule/internal/model"
	"github.com/iliyamo/time-capsule/internal/reconcile"
)

// PaymentLedger records gateway notifications.
type PaymentLedger interface {
	Record(ctx context.Context, ref string, status model.PaymentStatus) error
}

// PaymentHandler serves the gateway callback, the reclaim path and the
// signed webhook.
type PaymentHandler struct {
	Protocol      *reconcile.Protocol
	Ledger        PaymentLedger
	WebhookSecret string
	SecureCookies bool
	Logger        *slog.Logger
}

func NewPaymentHandler(p *reconcile.Protocol, ledger PaymentLedger, secret string, secure bool, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{Protocol: p, Ledger: ledger, WebhookSecret: secret, SecureCookies: secure,
		Logger: logger.With("component", "handler.payment")}
}

// cookiePending reads the pending correlation token from the request cookie
// and expires it on Clear.
type cookiePending struct {
	c      echo.Context
	secure bool
}

func (p cookiePending) Pending(context.Context) (string, error) {
	ck, err := p.c.Cookie(model.PendingCookieName)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(ck.Value), nil
}

func (p cookiePending) Clear(context.Context) error {
	p.c.SetCookie(&http.Cookie{
		Name:     model.PendingCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type reconciledResp struct {
	CapsuleID  string `json:"capsule_id"`
	PaymentRef string `json:"payment_ref"`
	ViewURL    string `json:"view_url"`
}

// Callback handles GET /v1/payments/callback, the gateway's return
// redirect.  On success the browser is sent to the permanent link.
func (h *PaymentHandler) Callback(c echo.Context) error {
	out, err := h.Protocol.Reconcile(c.Request().Context(), c.QueryParams(), cookiePending{c: c, secure: h.SecureCookies})
	if err != nil {
		return writeError(c, err)
	}
	return c.Redirect(http.StatusSeeOther, out.ViewURL)
}

type reclaimReq struct {
	ReclaimKey    string `json:"reclaim_key"`
	Ref           string `json:"ref"`
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
}

// Reclaim handles POST /v1/payments/reclaim for clients that lost the
// pending cookie.  The payment reference comes from the query string or,
// failing that, from the body.
func (h *PaymentHandler) Reclaim(c echo.Context) error {
	var req reclaimReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.ReclaimKey) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reclaim_key is required"})
	}
	q := c.QueryParams()
	if reconcile.PaymentReference(q) == "" {
		q = url.Values{"ref": {req.Ref}, "id": {req.ID}, "transaction_id": {req.TransactionID}}
	}
	out, err := h.Protocol.Reclaim(c.Request().Context(), req.ReclaimKey, q)
	if err != nil {
		return writeError(c, err)
	}
	// the draft is finalized; a pending cookie left in this browser is stale
	_ = cookiePending{c: c, secure: h.SecureCookies}.Clear(c.Request().Context())
	return c.JSON(http.StatusOK, reconciledResp{CapsuleID: out.Capsule.ID, PaymentRef: out.PaymentRef, ViewURL: out.ViewURL})
}

type webhookReq struct {
	Ref           string `json:"ref"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

const maxWebhookBody = 64 << 10

// Webhook handles POST /v1/payments/webhook.  The body must be signed with
// HMAC-SHA256 in X-Signature-256 ("sha256=<hex>").  Notifications are only
// recorded; the ledger verifier consults them during reconciliation.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	if h.WebhookSecret == "" || h.Ledger == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "webhook disabled"})
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if ok, reason := verifySignature(h.WebhookSecret, c.Request().Header.Get("X-Signature-256"), raw); !ok {
		h.Logger.Warn("webhook rejected", "reason", reason)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": reason})
	}

	var req webhookReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		ref = strings.TrimSpace(req.TransactionID)
	}
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment reference is required"})
	}
	status := model.PaymentRefused
	switch strings.ToLower(req.Status) {
	case "paid", "approved", "completed":
		status = model.PaymentPaid
	}
	if err := h.Ledger.Record(c.Request().Context(), ref, status); err != nil {
		h.Logger.Error("ledger write failed", "payment_ref", ref, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	h.Logger.Info("payment notification recorded", "payment_ref", ref, "status", status)
	return c.JSON(http.StatusOK, echo.Map{"payment_ref": ref, "status": status})
}

// verifySignature checks header against the HMAC-SHA256 of body.
func verifySignature(secret, header string, body []byte) (bool, string) {
	sig := strings.TrimSpace(header)
	if sig == "" {
		return false, "missing X-Signature-256"
	}
	hexSig, found := strings.CutPrefix(sig, "sha256=")
	if !found {
		return false, "invalid X-Signature-256 format"
	}
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return false, "invalid signature hex"
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return false, "signature mismatch"
	}
	return true, ""
}
