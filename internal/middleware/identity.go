package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/time-capsule/internal/model"
)

// holderID names who is behind a request for rate limiting: the token
// subject of an authenticated caller, else the pending capsule a checkout
// flow holds, else "anon".
func holderID(c echo.Context) string {
	if s, ok := c.Get(CtxSubject).(string); ok && s != "" {
		return "sub:" + s
	}
	if ck, err := c.Cookie(model.PendingCookieName); err == nil && ck.Value != "" {
		return "pending:" + ck.Value
	}
	return "anon"
}
