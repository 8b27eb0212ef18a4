package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/time-capsule/internal/utils"
)

// AccessHandler exchanges the free-access passphrase for a FREE_ACCESS token.
type AccessHandler struct {
	JWTSecret      string
	FreeAccessHash string
	TokenTTL       time.Duration
}

type accessReq struct {
	Passphrase string `json:"passphrase"`
}

type accessResp struct {
	Token   string    `json:"token"`
	Role    string    `json:"role"`
	Expires time.Time `json:"expires"`
}

// Exchange handles POST /v1/access.
func (h *AccessHandler) Exchange(c echo.Context) error {
	if h.FreeAccessHash == "" {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "free access disabled"})
	}
	var req accessReq
	if err := c.Bind(&req); err != nil || req.Passphrase == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "passphrase required"})
	}
	if !utils.VerifyPassphrase(h.FreeAccessHash, req.Passphrase) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid passphrase"})
	}
	tok, err := utils.NewFreeAccessToken(h.JWTSecret, h.TokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to issue token"})
	}
	return c.JSON(http.StatusOK, accessResp{Token: tok.Token, Role: utils.RoleFreeAccess, Expires: tok.Exp})
}
