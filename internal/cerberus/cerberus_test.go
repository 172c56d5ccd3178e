package cerberus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Bil-2/MESS-WALLAH-sub003/internal/cerberus"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/config"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/guard"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/models"
	"github.com/Bil-2/MESS-WALLAH-sub003/internal/services"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func baseConfig() config.SecurityConfig {
	return config.SecurityConfig{
		Enabled:         true,
		FreshnessWindow: 5 * time.Minute,
		CSRFTTL:         time.Hour,
		Profiles:        config.DefaultProfiles(),
	}
}

func newCerberus(t *testing.T, cfg config.SecurityConfig, clock *fakeClock, rec guard.Recorder) *cerberus.Cerberus {
	t.Helper()
	store, err := guard.NewMemoryStore(1000)
	require.NoError(t, err)
	c, err := cerberus.New(cfg, store, rec, cerberus.WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

func newRouter(c *cerberus.Cerberus, category string, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/csrf", c.IssueCSRFToken)
	g := r.Group("/", c.Middleware(category))
	g.GET("/target", handler)
	g.POST("/target", handler)
	return r
}

func ok(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }

func signedPost(clock *fakeClock, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/target", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(guard.HeaderSignature, "client-signature")
	req.Header.Set(guard.HeaderTimestamp, strconv.FormatInt(clock.now.UnixMilli(), 10))
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	cfg := baseConfig()
	cfg.Enabled = false
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, cfg, clock, nil), config.CategoryGeneral, ok)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/target", strings.NewReader(`{"q":"' OR 1=1"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RateLimitWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Profiles[config.CategoryGeneral] = config.ProfileConfig{Window: time.Minute, MaxRequests: 5}
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, cfg, clock, nil), config.CategoryGeneral, ok)

	for i := 0; i < 5; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/target", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		clock.Advance(10 * time.Second)
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/target", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(10), body["retryAfter"])

	clock.Advance(11 * time.Second)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/target", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_ReplayHeaders(t *testing.T) {
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, baseConfig(), clock, nil), config.CategoryGeneral, ok)

	req := httptest.NewRequest(http.MethodPost, "/target", strings.NewReader(`{}`))
	w := serve(r, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Missing security headers", decode(t, w)["message"])

	req = signedPost(clock, `{}`)
	req.Header.Set(guard.HeaderTimestamp, strconv.FormatInt(testNow.Add(-6*time.Minute).UnixMilli(), 10))
	w = serve(r, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Request expired", decode(t, w)["message"])
}

func TestMiddleware_HardenedSignature(t *testing.T) {
	cfg := baseConfig()
	cfg.SigningSecret = "s3cret"
	p := cfg.Profiles[config.CategoryGeneral]
	p.CSRF = false
	cfg.Profiles[config.CategoryGeneral] = p
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, cfg, clock, nil), config.CategoryGeneral, ok)

	body := `{"title":"Room near station"}`
	req := signedPost(clock, body)
	w := serve(r, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid request signature", decode(t, w)["message"])

	req = signedPost(clock, body)
	ts := req.Header.Get(guard.HeaderTimestamp)
	req.Header.Set(guard.HeaderSignature, guard.Sign([]byte("s3cret"), http.MethodPost, "/target", []byte(body), ts))
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_PatternAttackRejected(t *testing.T) {
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, baseConfig(), clock, nil), config.CategoryGeneral, ok)

	cases := []struct {
		name string
		req  *http.Request
	}{
		{"json body sqli", signedPost(clock, `{"title":"x' OR 1=1"}`)},
		{"nested xss", signedPost(clock, `{"room":{"tags":["<script>alert(1)</script>"]}}`)},
		{"malformed json", signedPost(clock, `{"q": "<script>`)},
		{"query string", httptest.NewRequest(http.MethodGet, "/target?q=1%20UNION%20SELECT%20password%20FROM%20users", nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, tc.req)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decode(t, w)
			assert.Equal(t, "Invalid request", body["message"])
			assert.NotContains(t, w.Body.String(), "sqli")
		})
	}
}

func TestMiddleware_BodyScannedWhateverContentType(t *testing.T) {
	cfg := baseConfig()
	general := cfg.Profiles[config.CategoryGeneral]
	general.CSRF = false
	cfg.Profiles[config.CategoryGeneral] = general
	clock := &fakeClock{now: testNow}

	var stored string
	r := newRouter(newCerberus(t, cfg, clock, nil), config.CategoryGeneral, func(c *gin.Context) {
		var in struct {
			Name string `json:"name"`
		}
		if c.ContentType() == "multipart/form-data" {
			in.Name = c.PostForm("name")
		} else if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stored = in.Name
		c.JSON(http.StatusOK, gin.H{"name": in.Name})
	})

	multipartBody := func(name string) (string, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("name", name))
		require.NoError(t, mw.Close())
		return buf.String(), mw.FormDataContentType()
	}

	attackForm, attackFormType := multipartBody("<script>alert(1)</script>")
	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"json sent as multipart", "multipart/form-data; boundary=x", `{"name":"<script>alert(1)</script>"}`},
		{"escaped json sent as text", "text/plain", `{"name":"\u003cscript\u003ealert(1)\u003c/script\u003e"}`},
		{"escaped json without content type", "", `{"name":"\u003cscript\u003e"}`},
		{"multipart form field", attackFormType, attackForm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stored = ""
			req := signedPost(clock, tc.body)
			req.Header.Set("Content-Type", tc.contentType)
			w := serve(r, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, stored)
		})
	}

	req := signedPost(clock, `{"name":"Sunny room"}`)
	req.Header.Set("Content-Type", "text/plain")
	require.Equal(t, http.StatusOK, serve(r, req).Code)
	assert.Equal(t, "Sunny room", stored)

	cleanForm, cleanFormType := multipartBody("Pune")
	req = signedPost(clock, cleanForm)
	req.Header.Set("Content-Type", cleanFormType)
	require.Equal(t, http.StatusOK, serve(r, req).Code)
	assert.Equal(t, "Pune", stored)
}

func TestMiddleware_CSRFFlow(t *testing.T) {
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, baseConfig(), clock, nil), config.CategoryGeneral, func(c *gin.Context) {
		var in struct {
			Title string `json:"title"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"title": in.Title})
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/csrf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["csrfToken"].(string)
	require.Len(t, token, 64)

	w = serve(r, signedPost(clock, `{"title":"Bright room"}`))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "CSRF token validation failed", decode(t, w)["message"])

	req := signedPost(clock, `{"title":"Bright room"}`)
	req.Header.Set(guard.HeaderCSRFToken, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = signedPost(clock, `{"title":"Bright room"}`)
	req.Header.Set(guard.HeaderCSRFToken, token)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bright room", decode(t, w)["title"])

	req = signedPost(clock, fmt.Sprintf(`{"title":"Body token","_csrf":%q}`, token))
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	clock.Advance(time.Hour + time.Second)
	req = signedPost(clock, `{"title":"Bright room"}`)
	req.Header.Set(guard.HeaderCSRFToken, token)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestMiddleware_BruteForceLockout(t *testing.T) {
	cfg := baseConfig()
	cfg.Profiles[config.CategoryAuth] = config.ProfileConfig{
		Window: 15 * time.Minute, MaxRequests: 100,
		MaxAuthAttempts: 3, LockoutWindow: 15 * time.Minute,
	}
	clock := &fakeClock{now: testNow}
	status := http.StatusUnauthorized
	r := newRouter(newCerberus(t, cfg, clock, nil), config.CategoryAuth, func(c *gin.Context) {
		c.JSON(status, gin.H{})
	})

	login := func() *httptest.ResponseRecorder {
		return serve(r, httptest.NewRequest(http.MethodPost, "/target", strings.NewReader(`{}`)))
	}

	assert.Equal(t, http.StatusUnauthorized, login().Code)
	assert.Equal(t, http.StatusUnauthorized, login().Code)
	status = http.StatusOK
	assert.Equal(t, http.StatusOK, login().Code)

	status = http.StatusUnauthorized
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusUnauthorized, login().Code)
	}
	clock.Advance(time.Minute)
	w := login()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many failed attempts, please try again later", decode(t, w)["message"])
	assert.Equal(t, "840", w.Header().Get("Retry-After"))
}

func TestMiddleware_OnlyTrackedRoutesFeedLockout(t *testing.T) {
	cfg := baseConfig()
	cfg.Profiles[config.CategoryAuth] = config.ProfileConfig{
		Window: 15 * time.Minute, MaxRequests: 100,
		MaxAuthAttempts: 3, LockoutWindow: 15 * time.Minute,
	}
	clock := &fakeClock{now: testNow}
	c := newCerberus(t, cfg, clock, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", c.Middleware(config.CategoryAuth), func(ctx *gin.Context) {
		ctx.JSON(http.StatusUnauthorized, gin.H{})
	})
	r.POST("/register", c.Middleware(config.CategoryAuth, cerberus.WithoutAttemptTracking()), func(ctx *gin.Context) {
		ctx.JSON(http.StatusCreated, gin.H{})
	})
	post := func(path string) int {
		return serve(r, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))).Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("/login"))
	assert.Equal(t, http.StatusUnauthorized, post("/login"))
	assert.Equal(t, http.StatusCreated, post("/register"))
	assert.Equal(t, http.StatusUnauthorized, post("/login"))

	attempts, err := c.Pipeline(config.CategoryAuth).BruteForce().Attempts(context.Background(), guard.ClientIdentity{IP: "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	assert.Equal(t, http.StatusTooManyRequests, post("/login"))
	assert.Equal(t, http.StatusTooManyRequests, post("/register"))
}

func TestMiddleware_BlocklistAndFlood(t *testing.T) {
	cfg := baseConfig()
	cfg.BlockedCIDRs = []string{"8.8.8.0/24"}
	cfg.FloodRPS = 1
	cfg.FloodBurst = 2
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, cfg, clock, nil), config.CategoryGeneral, ok)

	req := httptest.NewRequest(http.MethodGet, "/target", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	w := serve(r, req)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", decode(t, w)["message"])

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/target", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/target", nil)).Code)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/target", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/target", nil)).Code)
}

func TestMiddleware_UnknownCategoryUsesGeneral(t *testing.T) {
	clock := &fakeClock{now: testNow}
	c := newCerberus(t, baseConfig(), clock, nil)
	assert.Equal(t, config.CategoryGeneral, c.Pipeline("nope").Name())
	assert.Equal(t, config.CategoryAuth, c.Pipeline(config.CategoryAuth).Name())
}

func TestNew_Validation(t *testing.T) {
	_, err := cerberus.New(baseConfig(), nil, nil)
	assert.Error(t, err)

	store, err := guard.NewMemoryStore(10)
	require.NoError(t, err)

	cfg := baseConfig()
	delete(cfg.Profiles, config.CategoryGeneral)
	_, err = cerberus.New(cfg, store, nil)
	assert.ErrorIs(t, err, cerberus.ErrUnknownCategory)

	cfg = baseConfig()
	cfg.Profiles[config.CategoryPayment] = config.ProfileConfig{Window: 0, MaxRequests: 1}
	_, err = cerberus.New(cfg, store, nil)
	assert.ErrorIs(t, err, guard.ErrInvalidLimit)
}

func TestResetLockoutAndStatus(t *testing.T) {
	cfg := baseConfig()
	cfg.SigningSecret = "k"
	clock := &fakeClock{now: testNow}
	c := newCerberus(t, cfg, clock, nil)
	ctx := context.Background()
	id := guard.ClientIdentity{IP: "192.0.2.1"}

	bf := c.Pipeline(config.CategoryAuth).BruteForce()
	require.NotNil(t, bf)
	for i := 0; i < 5; i++ {
		require.NoError(t, bf.RecordOutcome(ctx, id, http.StatusUnauthorized, clock.now))
	}
	v, err := bf.CheckLocked(ctx, id, clock.now)
	require.NoError(t, err)
	require.False(t, v.Allowed)

	require.NoError(t, c.ResetLockout(ctx, config.CategoryAuth, id))
	v, err = bf.CheckLocked(ctx, id, clock.now)
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	assert.ErrorIs(t, c.ResetLockout(ctx, "missing", id), cerberus.ErrUnknownCategory)
	assert.ErrorIs(t, c.ResetLockout(ctx, config.CategoryGeneral, id), cerberus.ErrNoLockout)

	st := c.Status()
	assert.True(t, st.Enabled)
	assert.True(t, st.SignedRequests)
	assert.Equal(t, config.StoreMemory, st.StoreBackend)
	assert.Equal(t, 300, st.FreshnessWindow)
	assert.Equal(t, 3600, st.CSRFTTL)
	require.Len(t, st.Pipelines, 3)
	assert.Equal(t, config.CategoryAuth, st.Pipelines[0].Name)
	assert.Equal(t, 20, st.Pipelines[0].MaxRequests)
	assert.Equal(t, 5, st.Pipelines[0].MaxAuthAttempts)
	assert.Equal(t, config.CategoryGeneral, st.Pipelines[1].Name)
	assert.Equal(t, 0, st.Pipelines[1].MaxAuthAttempts)
}

func TestSweepRemovesExpiredCSRF(t *testing.T) {
	clock := &fakeClock{now: testNow}
	c := newCerberus(t, baseConfig(), clock, nil)
	r := newRouter(c, config.CategoryGeneral, ok)

	require.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/csrf", nil)).Code)
	clock.Advance(2 * time.Hour)

	n, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func setupDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:cerberus_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SecurityDecision{}))
	return db
}

func TestDecisionRecorder_PersistsAuditDenials(t *testing.T) {
	db := setupDB(t)
	security := services.NewSecurityService(db)
	alerts, err := services.NewAlertService(nil)
	require.NoError(t, err)

	cfg := baseConfig()
	cfg.Profiles[config.CategoryGeneral] = config.ProfileConfig{Window: time.Minute, MaxRequests: 1, Detector: true}
	clock := &fakeClock{now: testNow}
	r := newRouter(newCerberus(t, cfg, clock, cerberus.NewDecisionRecorder(security, alerts)), config.CategoryGeneral, ok)

	req := httptest.NewRequest(http.MethodGet, "/target?q=%3Cscript%3Ealert(1)%3C/script%3E", nil)
	require.Equal(t, http.StatusBadRequest, serve(r, req).Code)
	// Rate limit denials are counted but not persisted.
	require.Equal(t, http.StatusTooManyRequests, serve(r, httptest.NewRequest(http.MethodGet, "/target", nil)).Code)

	list, err := security.ListDecisions(services.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, string(guard.StageDetector), list[0].Stage)
	assert.Equal(t, string(guard.ReasonPatternAttack), list[0].Reason)
	assert.Equal(t, "192.0.2.1", list[0].IP)
	assert.Equal(t, "xss-script-tag", list[0].RuleID)
	assert.Contains(t, list[0].Details, `"category":"xss"`)
}
