package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/time-capsule/internal/handler"
	"github.com/iliyamo/time-capsule/internal/lifecycle"
	"github.com/iliyamo/time-capsule/internal/model"
	"github.com/iliyamo/time-capsule/internal/reconcile"
	"github.com/iliyamo/time-capsule/internal/repository"
	"github.com/iliyamo/time-capsule/internal/router"
	"github.com/iliyamo/time-capsule/internal/testsupport"
	"github.com/iliyamo/time-capsule/internal/utils"
)

const (
	jwtSecret     = "test-secret"
	webhookSecret = "hook-secret"
	publicBase    = "https://capsule.example"
)

var unlockAt = time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)

type clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func (c *clock) Set(t time.Time, step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t, c.step = t, step
}

type env struct {
	e        *echo.Echo
	repo     *repository.CapsuleRepo
	ledger   *repository.PaymentRepo
	clock    *clock
	capsules *handler.CapsuleHandler
}

func newEnv(t *testing.T, verifier reconcile.Verifier) *env {
	t.Helper()
	db := testsupport.MustOpenDB(t)
	repo := repository.NewCapsuleRepo(db)
	ledger := repository.NewPaymentRepo(db)
	rdb, _ := testsupport.MustRedis(t)
	corr := repository.NewCorrelationRepo(rdb, "test:reclaim", time.Hour)

	svc := lifecycle.NewService(lifecycle.Config{
		UnlockAt:      unlockAt,
		CheckoutURL:   "https://pay.example/checkout",
		PublicBaseURL: publicBase,
	}, lifecycle.Deps{Store: repo, Uploader: testsupport.NewMemoryStorage(), Correlations: corr})

	clk := &clock{t: unlockAt.Add(-48 * time.Hour)}
	capsules := handler.NewCapsuleHandler(svc, repo, time.Hour, false, nil)
	capsules.Now = clk.Now
	capsules.TickInterval = time.Millisecond

	proto := &reconcile.Protocol{Capsules: repo, Verifier: verifier, Correlations: corr, PublicBaseURL: publicBase}
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	h := router.Handlers{
		Health:   handler.Health(db),
		Capsules: capsules,
		Payments: handler.NewPaymentHandler(proto, ledger, webhookSecret, false, nil),
		Access:   &handler.AccessHandler{JWTSecret: jwtSecret, FreeAccessHash: string(hash), TokenTTL: time.Hour},
	}
	e := echo.New()
	router.RegisterRoutes(e, h, router.Middleware{})
	router.RegisterFreeAccess(e, h, router.Middleware{}, jwtSecret)
	return &env{e: e, repo: repo, ledger: ledger, clock: clk, capsules: capsules}
}

type part struct {
	field, name, contentType string
	data                     []byte
}

func multipartBody(t *testing.T, message string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if message != "" {
		_ = w.WriteField("message", message)
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		_, _ = pw.Write(p.data)
	}
	_ = w.Close()
	return &buf, w.FormDataContentType()
}

func photo(name string) part {
	return part{field: "photos", name: name, contentType: "image/jpeg", data: []byte(name)}
}

func (v *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

func (v *env) submit(t *testing.T, target, bearer string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "see you in 2026", parts...)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set(echo.HeaderContentType, ct)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	return v.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func pendingCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == model.PendingCookieName {
			return ck
		}
	}
	return nil
}

func TestPaidFlowEndToEnd(t *testing.T) {
	v := newEnv(t, nil)

	rec := v.submit(t, "/v1/capsules?parceiro=ana", "", photo("a.jpg"), photo("b.jpg"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	id := body["capsule_id"].(string)
	if body["state"] != string(model.StateDraftUnconfirmed) {
		t.Fatalf("state = %v", body["state"])
	}
	if body["checkout_url"] != "https://pay.example/checkout?src=ana&sck=ana&utm_source=ana" {
		t.Fatalf("checkout_url = %v", body["checkout_url"])
	}
	if body["reclaim_key"] == nil {
		t.Fatal("missing reclaim_key")
	}
	ck := pendingCookie(rec)
	if ck == nil || ck.Value != id || !ck.HttpOnly {
		t.Fatalf("pending cookie = %+v", ck)
	}

	// Locked draft: no content.
	view := v.do(httptest.NewRequest(http.MethodGet, "/v/"+id, nil))
	if view.Code != http.StatusOK {
		t.Fatalf("view: %d", view.Code)
	}
	vb := decode(t, view)
	if vb["content"] != nil || vb["gate"].(map[string]any)["released"] != false {
		t.Fatalf("locked view leaked content: %s", view.Body.String())
	}

	// Callback with the cookie finalizes and redirects.
	req := httptest.NewRequest(http.MethodGet, "/v1/payments/callback?ref=TX123", nil)
	req.AddCookie(ck)
	cb := v.do(req)
	if cb.Code != http.StatusSeeOther || cb.Header().Get("Location") != publicBase+"/v/"+id {
		t.Fatalf("callback: %d %q %s", cb.Code, cb.Header().Get("Location"), cb.Body.String())
	}
	if cleared := pendingCookie(cb); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("pending cookie not expired: %+v", cleared)
	}
	got, err := v.repo.GetByID(context.Background(), id)
	if err != nil || got.ProvisioningToken != "TX123" || !got.Finalized() {
		t.Fatalf("capsule after callback: %+v %v", got, err)
	}

	// The browser now holds the expired cookie: a second callback has no
	// session to match and leaves the record alone.
	again := httptest.NewRequest(http.MethodGet, "/v1/payments/callback?ref=TX123", nil)
	again.AddCookie(&http.Cookie{Name: model.PendingCookieName, Value: pendingCookie(cb).Value})
	second := v.do(again)
	if second.Code != http.StatusGone {
		t.Fatalf("second callback: %d %s", second.Code, second.Body.String())
	}
	if d, _ := decode(t, second)["diagnostic"].(string); !strings.Contains(d, "TX123") {
		t.Fatalf("diagnostic = %q", d)
	}
	unchanged, _ := v.repo.GetByID(context.Background(), id)
	if unchanged.ProvisioningToken != "TX123" || !unchanged.FinalizedAt.Equal(*got.FinalizedAt) {
		t.Fatalf("record changed by second callback: %+v", unchanged)
	}

	// After the unlock instant the content is revealed in selection order.
	v.clock.Set(unlockAt.Add(time.Second), 0)
	view = v.do(httptest.NewRequest(http.MethodGet, "/v1/capsules/"+id, nil))
	content, ok := decode(t, view)["content"].(map[string]any)
	if !ok {
		t.Fatalf("released view without content: %s", view.Body.String())
	}
	photos := content["photo_urls"].([]any)
	if len(photos) != 2 || !strings.HasSuffix(photos[0].(string), "a.jpg") || !strings.HasSuffix(photos[1].(string), "b.jpg") {
		t.Fatalf("photo_urls = %v", photos)
	}
}

func TestCallbackFailures(t *testing.T) {
	v := newEnv(t, nil)
	rec := v.submit(t, "/v1/capsules", "", photo("a.jpg"))
	id := decode(t, rec)["capsule_id"].(string)

	tests := []struct {
		name       string
		target     string
		cookie     string
		status     int
		diagnostic string
	}{
		{"no reference", "/v1/payments/callback", id, http.StatusBadRequest, "unknown"},
		{"session lost", "/v1/payments/callback?id=TX9", "", http.StatusGone, "TX9"},
		{"unknown capsule", "/v1/payments/callback?transaction_id=TX5", "missing-id", http.StatusConflict, "missing-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: model.PendingCookieName, Value: tt.cookie})
			}
			res := v.do(req)
			if res.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", res.Code, tt.status, res.Body.String())
			}
			if d, _ := decode(t, res)["diagnostic"].(string); !strings.Contains(d, tt.diagnostic) {
				t.Fatalf("diagnostic %q does not mention %q", d, tt.diagnostic)
			}
		})
	}

	got, _ := v.repo.GetByID(context.Background(), id)
	if got.Finalized() {
		t.Fatal("failed callbacks must not finalize")
	}
}

func TestReclaimEndpoint(t *testing.T) {
	v := newEnv(t, nil)
	rec := v.submit(t, "/v1/capsules", "", photo("a.jpg"))
	body := decode(t, rec)

	payload := `{"reclaim_key":"` + body["reclaim_key"].(string) + `","ref":"TX77"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/reclaim", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res := v.do(req)
	if res.Code != http.StatusOK {
		t.Fatalf("reclaim: %d %s", res.Code, res.Body.String())
	}
	if decode(t, res)["capsule_id"] != body["capsule_id"] {
		t.Fatalf("reclaimed wrong capsule: %s", res.Body.String())
	}
	if ck := pendingCookie(res); ck == nil || ck.MaxAge >= 0 {
		t.Fatalf("reclaim must expire the pending cookie: %+v", ck)
	}

	// The pending cookie a browser might still hold only replays the finalize.
	req = httptest.NewRequest(http.MethodGet, "/v1/payments/callback?ref=TX77", nil)
	req.AddCookie(pendingCookie(rec))
	if cb := v.do(req); cb.Code != http.StatusSeeOther {
		t.Fatalf("stale cookie callback: %d %s", cb.Code, cb.Body.String())
	}
	got, _ := v.repo.GetByID(context.Background(), body["capsule_id"].(string))
	if got.ProvisioningToken != "TX77" {
		t.Fatalf("token = %q", got.ProvisioningToken)
	}
}

func TestSubmitStoresMessageAsTyped(t *testing.T) {
	v := newEnv(t, nil)
	const message = "  dear future me,\n  hi  \n"
	body, ct := multipartBody(t, message, photo("a.jpg"))
	req := httptest.NewRequest(http.MethodPost, "/v1/capsules", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := v.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	got, err := v.repo.GetByID(context.Background(), decode(t, rec)["capsule_id"].(string))
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Message != message {
		t.Fatalf("message = %q, want %q", got.Message, message)
	}
}

func TestSubmitValidation(t *testing.T) {
	v := newEnv(t, nil)
	if rec := v.submit(t, "/v1/capsules", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("no content: %d", rec.Code)
	}
	rec := v.submit(t, "/v1/capsules", "", photo("1.jpg"), photo("2.jpg"), photo("3.jpg"), photo("4.jpg"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("four photos: %d", rec.Code)
	}
}

func TestFreeAccessFlow(t *testing.T) {
	v := newEnv(t, nil)
	audio := part{field: "audio", name: "chunk.webm", contentType: "audio/webm", data: []byte("voice")}

	if rec := v.submit(t, "/v1/capsules/free", "", audio); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/access", strings.NewReader(`{"passphrase":"wrong"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if rec := v.do(req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong passphrase: %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/v1/access", strings.NewReader(`{"passphrase":"open sesame"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := v.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("exchange: %d %s", rec.Code, rec.Body.String())
	}
	token := decode(t, rec)["token"].(string)

	rec = v.submit(t, "/v1/capsules/free", token, audio)
	if rec.Code != http.StatusCreated {
		t.Fatalf("free submit: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["state"] != string(model.StateFinalized) || body["checkout_url"] != nil {
		t.Fatalf("free submit body: %v", body)
	}
	if pendingCookie(rec) != nil {
		t.Fatal("free path must not set the pending cookie")
	}
	got, _ := v.repo.GetByID(context.Background(), body["capsule_id"].(string))
	if !strings.HasPrefix(got.ProvisioningToken, model.FreeTokenPrefix) || got.AudioURL == nil {
		t.Fatalf("stored capsule = %+v", got)
	}
}

func TestFreeRouteRejectsOtherRoles(t *testing.T) {
	v := newEnv(t, nil)
	tok, _ := utils.NewAccessToken(jwtSecret, "someone", "VIEWER", time.Hour)
	if rec := v.submit(t, "/v1/capsules/free", tok.Token, photo("a.jpg")); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAndLedgerVerifier(t *testing.T) {
	v := newEnv(t, nil)
	v.capsules.Now = time.Now
	proto := &reconcile.Protocol{Capsules: v.repo, Verifier: reconcile.LedgerVerifier{Ledger: v.ledger}, PublicBaseURL: publicBase}
	payments := handler.NewPaymentHandler(proto, v.ledger, webhookSecret, false, nil)
	e := echo.New()
	e.GET("/cb", payments.Callback)
	e.POST("/hook", payments.Webhook)

	draft := &model.Capsule{PhotoURLs: []string{"x"}, UnlockAt: unlockAt, ProvisioningToken: "PENDING_1_x", Source: model.SourcePending}
	if err := v.repo.Create(context.Background(), draft); err != nil {
		t.Fatalf("Create: %v", err)
	}
	callback := func() int {
		req := httptest.NewRequest(http.MethodGet, "/cb?ref=TX1", nil)
		req.AddCookie(&http.Cookie{Name: model.PendingCookieName, Value: draft.ID})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := callback(); code != http.StatusPaymentRequired {
		t.Fatalf("unconfirmed payment: %d", code)
	}

	payload := `{"ref":"TX1","status":"approved"}`
	bad := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(payload))
	bad.Header.Set("X-Signature-256", "sha256=00")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: %d", rec.Code)
	}

	good := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(payload))
	good.Header.Set("X-Signature-256", sign(payload))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, good)
	if rec.Code != http.StatusOK {
		t.Fatalf("good signature: %d %s", rec.Code, rec.Body.String())
	}
	if code := callback(); code != http.StatusSeeOther {
		t.Fatalf("confirmed payment: %d", code)
	}
}

func TestCountdownStream(t *testing.T) {
	v := newEnv(t, nil)
	rec := v.submit(t, "/v1/capsules", "", photo("a.jpg"))
	id := decode(t, rec)["capsule_id"].(string)

	v.clock.Set(unlockAt.Add(-2*time.Second), time.Second)
	res := v.do(httptest.NewRequest(http.MethodGet, "/v1/capsules/"+id+"/countdown", nil))
	if res.Code != http.StatusOK || res.Header().Get(echo.HeaderContentType) != "text/event-stream" {
		t.Fatalf("countdown: %d %q", res.Code, res.Header().Get(echo.HeaderContentType))
	}
	out := res.Body.String()
	if strings.Count(out, "event: tick\n") != 2 || strings.Count(out, "event: released\n") != 1 {
		t.Fatalf("stream = %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("stream not terminated by a frame: %q", out)
	}
}

func TestViewUnknownCapsule(t *testing.T) {
	v := newEnv(t, nil)
	rec := v.do(httptest.NewRequest(http.MethodGet, "/v/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCheckoutRedirect(t *testing.T) {
	v := newEnv(t, nil)
	rec := v.do(httptest.NewRequest(http.MethodGet, "/v1/checkout?utm_source=insta", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://pay.example/checkout?src=insta&sck=insta&utm_source=insta" {
		t.Fatalf("location = %q", loc)
	}
}

func TestHealth(t *testing.T) {
	v := newEnv(t, nil)
	rec := v.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}
