package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/time-capsule/internal/gate"
	"github.com/iliyamo/time-capsule/internal/lifecycle"
	"github.com/iliyamo/time-capsule/internal/media"
	"github.com/iliyamo/time-capsule/internal/middleware"
	"github.com/iliyamo/time-capsule/internal/model"
)

// CapsuleReader is the read side of the capsule repository.
type CapsuleReader interface {
	GetByID(ctx context.Context, id string) (model.Capsule, error)
}

// CapsuleHandler serves submission, checkout and viewing.
type CapsuleHandler struct {
	Lifecycle        *lifecycle.Service
	Capsules         CapsuleReader
	PendingCookieTTL time.Duration
	SecureCookies    bool
	TickInterval     time.Duration // countdown stream period, defaults to 1s
	Now              func() time.Time
	Logger           *slog.Logger
}

func NewCapsuleHandler(svc *lifecycle.Service, capsules CapsuleReader, cookieTTL time.Duration, secure bool, logger *slog.Logger) *CapsuleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapsuleHandler{
		Lifecycle:        svc,
		Capsules:         capsules,
		PendingCookieTTL: cookieTTL,
		SecureCookies:    secure,
		Now:              time.Now,
		Logger:           logger.With("component", "handler.capsule"),
	}
}

// ----- DTOs -----

type submitResp struct {
	CapsuleID     string      `json:"capsule_id"`
	State         model.State `json:"state"`
	ViewURL       string      `json:"view_url,omitempty"`
	CheckoutURL   string      `json:"checkout_url,omitempty"`
	ReclaimKey    string      `json:"reclaim_key,omitempty"`
	SkippedAssets []string    `json:"skipped_assets,omitempty"`
}

type contentPart struct {
	Message   string   `json:"message"`
	AudioURL  *string  `json:"audio_url"`
	PhotoURLs []string `json:"photo_urls"`
}

type viewResp struct {
	ID      string       `json:"id"`
	State   model.State  `json:"state"`
	Gate    gate.Status  `json:"gate"`
	Content *contentPart `json:"content,omitempty"`
}

// Submit handles POST /v1/capsules: a paid-path draft.  The draft id is
// kept in the pending cookie for the payment callback.
func (h *CapsuleHandler) Submit(c echo.Context) error { return h.submit(c, false) }

// SubmitFree handles POST /v1/capsules/free for FREE_ACCESS token holders.
func (h *CapsuleHandler) SubmitFree(c echo.Context) error { return h.submit(c, true) }

func (h *CapsuleHandler) submit(c echo.Context, privileged bool) error {
	sub, err := h.readSubmission(c)
	if err != nil {
		return writeError(c, err)
	}
	sub.Privileged = privileged
	sub.Referral = c.QueryParams()

	res, err := h.Lifecycle.Submit(c.Request().Context(), sub)
	if err != nil {
		return writeError(c, err)
	}

	resp := submitResp{
		CapsuleID:     res.Capsule.ID,
		State:         res.Capsule.State(),
		ViewURL:       res.ViewURL,
		CheckoutURL:   res.CheckoutURL,
		ReclaimKey:    res.ReclaimKey,
		SkippedAssets: res.SkippedAssets,
	}
	if res.PendingID != "" {
		c.SetCookie(&http.Cookie{
			Name:     model.PendingCookieName,
			Value:    res.PendingID,
			Path:     "/",
			MaxAge:   int(h.PendingCookieTTL / time.Second),
			HttpOnly: true,
			Secure:   h.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return c.JSON(http.StatusCreated, resp)
}

// readSubmission parses the multipart form: a "message" field, up to three
// "photos" files and the "audio" parts in recording order.
func (h *CapsuleHandler) readSubmission(c echo.Context) (lifecycle.Submission, error) {
	var sub lifecycle.Submission
	form, err := c.MultipartForm()
	if err != nil {
		return sub, fmt.Errorf("%w: multipart form expected", lifecycle.ErrNoContent)
	}
	if v := form.Value["message"]; len(v) > 0 {
		sub.Message = v[0]
	}

	var sel media.Selection
	for _, fh := range form.File["photos"] {
		data, err := readPart(fh)
		if err != nil {
			return sub, err
		}
		if err := sel.Add(media.Photo{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}); err != nil {
			return sub, err
		}
	}
	sub.Photos = sel.Photos()

	if parts := form.File["audio"]; len(parts) > 0 {
		chunks := make([][]byte, 0, len(parts))
		for _, fh := range parts {
			data, err := readPart(fh)
			if err != nil {
				return sub, err
			}
			chunks = append(chunks, data)
		}
		rec := &media.Recorder{Device: media.StaticDevice{Chunks: chunks}, ContentType: parts[0].Header.Get("Content-Type")}
		clip, err := media.RecordAll(c.Request().Context(), rec)
		if err != nil {
			return sub, err
		}
		sub.Audio = &clip
	}
	return sub, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Checkout handles GET /v1/checkout: redirect to the gateway with the
// partner attribution of the inbound query.
func (h *CapsuleHandler) Checkout(c echo.Context) error {
	cfg := h.Lifecycle.Config()
	return c.Redirect(http.StatusFound, lifecycle.CheckoutURL(cfg.CheckoutURL, c.QueryParams()))
}

// View handles GET /v1/capsules/:id and /v/:id.  Content is revealed only
// for finalized capsules at or after their unlock instant; that response
// never changes again and is marked cacheable.
func (h *CapsuleHandler) View(c echo.Context) error {
	cp, err := h.Capsules.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	st := gate.Evaluate(h.Now(), cp.UnlockAt)
	resp := viewResp{ID: cp.ID, State: cp.State(), Gate: st}
	if st.Released && cp.Finalized() {
		resp.Content = &contentPart{Message: cp.Message, AudioURL: cp.AudioURL, PhotoURLs: cp.PhotoURLs}
		middleware.MarkCacheable(c)
	}
	return c.JSON(http.StatusOK, resp)
}

// Countdown handles GET /v1/capsules/:id/countdown as a Server-Sent Events
// stream: a "tick" event per interval while locked and one "released"
// event, after which the stream ends.
func (h *CapsuleHandler) Countdown(c echo.Context) error {
	ctx := c.Request().Context()
	cp, err := h.Capsules.GetByID(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	session := &gate.Session{
		UnlockAt: cp.UnlockAt,
		Interval: h.TickInterval,
		Now:      h.Now,
		Logger:   h.Logger,
		OnRelease: func(context.Context) {
			h.Logger.Info("capsule released to viewer", "capsule_id", cp.ID)
		},
	}
	err = session.Run(ctx, func(st gate.Status) error {
		event := "tick"
		if st.Released {
			event = "released"
		}
		if err := writeSSE(w, event, st); err != nil {
			return err
		}
		w.Flush()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		h.Logger.Warn("countdown stream ended", "capsule_id", cp.ID, "error", err)
	}
	return nil
}
