package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/config"
	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/logging"
	"github.com/Clark-Hu/store-ratings/internal/pgtest"
	"github.com/Clark-Hu/store-ratings/internal/repository"
	"github.com/Clark-Hu/store-ratings/internal/service"
	"github.com/Clark-Hu/store-ratings/internal/validation"
)

const testSecret = "0123456789abcdef0123"

type testServer struct {
	srv    *Server
	tokens *auth.TokenIssuer
	auth   *service.AuthService
}

func testConfig() config.Config {
	return config.Config{
		Port:               "0",
		JWTSecret:          testSecret,
		JWTIssuer:          "store-ratings",
		JWTTTL:             time.Hour,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		AuthRatePerMin:     6000,
		AuthRateBurst:      1000,
		ReadTimeoutSecs:    15,
		WriteTimeoutSecs:   15,
		IdleTimeoutSecs:    60,
	}
}

// buildTestServer wires every layer against an embedded database.
func buildTestServer(tb testing.TB) *testServer {
	tb.Helper()
	cfg := testConfig()
	db := pgtest.Start(tb)

	repo := repository.NewWithPool(db.Pool, 5*time.Second)
	logger := logging.Discard()
	v := validation.New()
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL, nil)
	hasher := auth.NewHasher(bcrypt.MinCost, 4)

	authSvc := service.NewAuthService(repo.Users, repo, hasher, tokens, v, logger)
	svc := Services{
		Auth:      authSvc,
		Ratings:   service.NewRatingService(repo.Ratings, logger),
		Directory: service.NewDirectoryService(repo.Users, repo.Stores, repo.Ratings, v, logger),
	}
	return &testServer{
		srv:    New(cfg, nil, svc, tokens, v, logger),
		tokens: tokens,
		auth:   authSvc,
	}
}

// buildBareServer has no storage behind it; only requests rejected before a
// service is called may be sent to it.
func buildBareServer(tb testing.TB, cfg config.Config, logger logrus.FieldLogger) *testServer {
	tb.Helper()
	if logger == nil {
		logger = logging.Discard()
	}
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL, nil)
	return &testServer{
		srv:    New(cfg, nil, Services{}, tokens, validation.New(), logger),
		tokens: tokens,
	}
}

func (ts *testServer) do(tb testing.TB, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	tb.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			tb.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func expectStatus(tb testing.TB, rec *httptest.ResponseRecorder, want int) {
	tb.Helper()
	if rec.Code != want {
		tb.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func decode[T any](tb testing.TB, rec *httptest.ResponseRecorder) T {
	tb.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		tb.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func expectCode(tb testing.TB, rec *httptest.ResponseRecorder, status int, code string) {
	tb.Helper()
	expectStatus(tb, rec, status)
	if got := decode[errorResponse](tb, rec).Code; got != code {
		tb.Fatalf("error code = %q, want %q", got, code)
	}
}

func expectAverage(tb testing.TB, got *float64, want float64) {
	tb.Helper()
	if got == nil {
		tb.Fatalf("average = nil, want %v", want)
	}
	if math.Abs(*got-want) > 1e-9 {
		tb.Fatalf("average = %v, want %v", *got, want)
	}
}

func (ts *testServer) signupAndLogin(tb testing.TB, name, email string) service.LoginResult {
	tb.Helper()
	rec := ts.do(tb, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": name, "email": email, "address": "1 Main Street", "password": "Passw0rd!",
	})
	expectStatus(tb, rec, http.StatusCreated)

	rec = ts.do(tb, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "Passw0rd!"})
	expectStatus(tb, rec, http.StatusOK)
	return decode[service.LoginResult](tb, rec)
}

func (ts *testServer) ownerSignup(tb testing.TB, name, storeName string) service.OwnerSignupResult {
	tb.Helper()
	slug := strings.ToLower(strings.ReplaceAll(storeName, " ", "-"))
	rec := ts.do(tb, http.MethodPost, "/auth/owner/signup", "", map[string]string{
		"name": name, "email": slug + "@owner.test", "address": "2 Side Road", "password": "Passw0rd!",
		"storeName": storeName, "storeEmail": "shop@" + slug + ".test", "storeAddress": "3 Market Square",
	})
	expectStatus(tb, rec, http.StatusCreated)
	return decode[service.OwnerSignupResult](tb, rec)
}

type rateResponse struct {
	Rating        domain.Rating `json:"rating"`
	AverageRating *float64      `json:"averageRating"`
	RatingCount   int64         `json:"ratingCount"`
}

func TestRatingScenarioEndToEnd(t *testing.T) {
	ts := buildTestServer(t)

	store1 := ts.ownerSignup(t, "Olga", "Store One").Store
	alice := ts.signupAndLogin(t, "alice", "alice@example.com")
	bob := ts.signupAndLogin(t, "bob", "bob@example.com")

	rec := ts.do(t, http.MethodPost, "/stores/"+store1.ID+"/rating", alice.Token, map[string]int{"value": 4})
	expectStatus(t, rec, http.StatusCreated)
	expectAverage(t, decode[rateResponse](t, rec).AverageRating, 4.0)

	rec = ts.do(t, http.MethodPost, "/stores/"+store1.ID+"/rating", bob.Token, map[string]int{"value": 2})
	expectStatus(t, rec, http.StatusCreated)
	expectAverage(t, decode[rateResponse](t, rec).AverageRating, 3.0)

	// A second rating by the same user updates in place.
	rec = ts.do(t, http.MethodPut, "/stores/"+store1.ID+"/rating", alice.Token, map[string]int{"value": 5})
	expectStatus(t, rec, http.StatusOK)
	out := decode[rateResponse](t, rec)
	expectAverage(t, out.AverageRating, 3.5)
	if out.RatingCount != 2 || out.Rating.Value != 5 {
		t.Fatalf("unexpected outcome: count=%d value=%d", out.RatingCount, out.Rating.Value)
	}

	for _, path := range []string{"/stores", "/user/stores"} {
		rec = ts.do(t, http.MethodGet, path, alice.Token, nil)
		expectStatus(t, rec, http.StatusOK)
		list := decode[storeListResponse](t, rec)
		if len(list.Items) != 1 {
			t.Fatalf("%s: got %d stores, want 1", path, len(list.Items))
		}
		if list.Items[0].UserRating == nil || *list.Items[0].UserRating != 5 {
			t.Fatalf("%s: own rating = %v, want 5", path, list.Items[0].UserRating)
		}
		expectAverage(t, list.Items[0].AverageRating, 3.5)
	}
}

func TestRateStoreRejections(t *testing.T) {
	ts := buildTestServer(t)
	st := ts.ownerSignup(t, "Olga", "Store One").Store
	user := ts.signupAndLogin(t, "alice", "alice@example.com")

	cases := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"value too high", "/stores/" + st.ID + "/rating", map[string]int{"value": 6}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"value too low", "/stores/" + st.ID + "/rating", map[string]int{"value": 0}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"fractional value", "/stores/" + st.ID + "/rating", `{"value":4.5}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing value", "/stores/" + st.ID + "/rating", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", "/stores/" + st.ID + "/rating", `{"value":3,"stars":3}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed json", "/stores/" + st.ID + "/rating", `{"value":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown store", "/stores/00000000-0000-0000-0000-000000000000/rating", map[string]int{"value": 3}, http.StatusNotFound, "NOT_FOUND"},
		{"malformed store id", "/stores/not-a-uuid/rating", map[string]int{"value": 3}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectCode(t, ts.do(t, http.MethodPost, tc.path, user.Token, tc.body), tc.status, tc.code)
		})
	}

	rec := ts.do(t, http.MethodGet, "/stores", user.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	if n := decode[storeListResponse](t, rec).Items[0].RatingCount; n != 0 {
		t.Fatalf("rejected writes reached storage: rating count %d", n)
	}
}

func TestSignupAndLoginErrors(t *testing.T) {
	ts := buildTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": "weak", "email": "weak@example.com", "address": "x", "password": "abcdefgh",
	})
	expectStatus(t, rec, http.StatusBadRequest)
	body := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	if body.Code != "VALIDATION_ERROR" || body.Details["password"] == "" {
		t.Fatalf("unexpected validation body: %+v", body)
	}

	ts.signupAndLogin(t, "alice", "alice@example.com")

	rec = ts.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": "alice", "email": " ALICE@example.com", "address": "x", "password": "Passw0rd!",
	})
	expectCode(t, rec, http.StatusBadRequest, "DUPLICATE_EMAIL")

	wrong := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "Nope!nope1"})
	unknown := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "Nope!nope1"})
	if wrong.Code != unknown.Code || wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("login failures differ: %d %s vs %d %s", wrong.Code, wrong.Body, unknown.Code, unknown.Body)
	}
	expectCode(t, wrong, http.StatusBadRequest, "INVALID_CREDENTIALS")

	rec = ts.do(t, http.MethodPost, "/auth/signup", "", map[string]interface{}{
		"name": "eve", "email": "eve@example.com", "address": "x", "password": "Passw0rd!", "isAdmin": true,
	})
	expectCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestOwnerEndpointsAreScopedToCaller(t *testing.T) {
	ts := buildTestServer(t)

	ownerA := ts.ownerSignup(t, "Anna", "Alpha Books")
	ownerB := ts.ownerSignup(t, "Boris", "Beta Coffee")
	rater := ts.signupAndLogin(t, "carol", "carol@example.com")

	rec := ts.do(t, http.MethodPost, "/stores/"+ownerB.Store.ID+"/rating", rater.Token, map[string]int{"value": 5})
	expectStatus(t, rec, http.StatusCreated)

	rec = ts.do(t, http.MethodGet, "/owner/store", ownerA.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[domain.Store](t, rec); got.ID != ownerA.Store.ID {
		t.Fatalf("owner A saw store %s, want %s", got.ID, ownerA.Store.ID)
	}

	// A client-supplied owner id is ignored.
	rec = ts.do(t, http.MethodGet, "/owner/store/ratings?ownerId="+ownerB.User.ID, ownerA.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	ratingsA := decode[service.OwnerStoreRatings](t, rec)
	if ratingsA.Store.ID != ownerA.Store.ID || len(ratingsA.Ratings) != 0 {
		t.Fatalf("owner A ratings leaked: %+v", ratingsA)
	}

	rec = ts.do(t, http.MethodGet, "/owner/store/ratings", ownerB.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	ratingsB := decode[service.OwnerStoreRatings](t, rec)
	if len(ratingsB.Ratings) != 1 {
		t.Fatalf("owner B got %d ratings, want 1", len(ratingsB.Ratings))
	}
	got := ratingsB.Ratings[0]
	if got.User.Name != "carol" || got.User.Email != "carol@example.com" || got.Value != 5 {
		t.Fatalf("unexpected rating: %+v", got)
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := buildTestServer(t)

	if _, err := ts.auth.SeedAdmin(context.Background(), config.AdminSeed{Name: "Root", Email: "root@example.com", Password: "Bootstrap!1"}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "root@example.com", "password": "Bootstrap!1"})
	expectStatus(t, rec, http.StatusOK)
	admin := decode[service.LoginResult](t, rec)
	if admin.Role != domain.RoleAdmin {
		t.Fatalf("seeded role = %s", admin.Role)
	}

	rec = ts.do(t, http.MethodPost, "/admin/users", admin.Token, map[string]string{
		"name": "Oscar", "email": "oscar@owner.test", "address": "x", "password": "Passw0rd!", "role": "OWNER",
	})
	expectStatus(t, rec, http.StatusCreated)
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password material leaked: %s", rec.Body.String())
	}
	oscar := decode[domain.User](t, rec)
	if oscar.Role != domain.RoleOwner {
		t.Fatalf("created role = %s", oscar.Role)
	}

	rec = ts.do(t, http.MethodPost, "/admin/stores", admin.Token, map[string]string{
		"name": "Oscar's", "email": "shop@oscar.test", "address": "y", "ownerId": oscar.ID,
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = ts.do(t, http.MethodPost, "/admin/stores", admin.Token, map[string]string{
		"name": "Again", "email": "again@oscar.test", "address": "y", "ownerId": oscar.ID,
	})
	expectCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	ts.signupAndLogin(t, "ursula", "ursula@example.com")

	rec = ts.do(t, http.MethodGet, "/admin/dashboard", admin.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	want := domain.DashboardStats{TotalUsers: 1, TotalStores: 1, TotalRatings: 0}
	if got := decode[domain.DashboardStats](t, rec); got != want {
		t.Fatalf("dashboard = %+v, want %+v", got, want)
	}

	rec = ts.do(t, http.MethodGet, "/admin/users?role=OWNER&sortBy=email&order=desc", admin.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	users := decode[adminUserListResponse](t, rec)
	if len(users.Items) != 1 || users.Items[0].ID != oscar.ID {
		t.Fatalf("owner filter returned %+v", users.Items)
	}

	rec = ts.do(t, http.MethodGet, "/admin/stores?search=oscar", admin.Token, nil)
	expectStatus(t, rec, http.StatusOK)
	if n := len(decode[adminStoreListResponse](t, rec).Items); n != 1 {
		t.Fatalf("store search returned %d items, want 1", n)
	}
}

func TestAuthorizationGate(t *testing.T) {
	cfg := testConfig()
	ts := buildBareServer(t, cfg, nil)

	issue := func(iss *auth.TokenIssuer, id string, role domain.Role) string {
		t.Helper()
		tok, err := iss.Issue(id, role)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		return tok.Value
	}
	userTok := issue(ts.tokens, "11111111-1111-1111-1111-111111111111", domain.RoleUser)
	ownerTok := issue(ts.tokens, "22222222-2222-2222-2222-222222222222", domain.RoleOwner)
	adminTok := issue(ts.tokens, "33333333-3333-3333-3333-333333333333", domain.RoleAdmin)

	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired := issue(auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, time.Hour, past), "u", domain.RoleUser)
	forged := issue(auth.NewTokenIssuer("a-completely-different-key", cfg.JWTIssuer, time.Hour, nil), "u", domain.RoleAdmin)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/stores", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", http.MethodGet, "/stores", "garbage", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired token", http.MethodGet, "/stores", expired, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"forged token", http.MethodGet, "/admin/dashboard", forged, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"user on admin", http.MethodGet, "/admin/dashboard", userTok, http.StatusForbidden, "FORBIDDEN_ROLE"},
		{"owner on admin", http.MethodPost, "/admin/stores", ownerTok, http.StatusForbidden, "FORBIDDEN_ROLE"},
		{"owner rating", http.MethodPost, "/stores/x/rating", ownerTok, http.StatusForbidden, "FORBIDDEN_ROLE"},
		{"admin on owner", http.MethodGet, "/owner/store", adminTok, http.StatusForbidden, "FORBIDDEN_ROLE"},
		{"user on owner", http.MethodGet, "/owner/store/ratings", userTok, http.StatusForbidden, "FORBIDDEN_ROLE"},
		{"admin on user list", http.MethodGet, "/stores", adminTok, http.StatusForbidden, "FORBIDDEN_ROLE"},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectCode(t, ts.do(t, tc.method, tc.path, tc.token, nil), tc.status, tc.code)
		})
	}
}

func TestRequestLogNamesAuthenticatedCaller(t *testing.T) {
	var buf bytes.Buffer
	ts := buildBareServer(t, testConfig(), logging.NewWithWriter(&buf, "info", "json"))

	tok, err := ts.tokens.Issue("44444444-4444-4444-4444-444444444444", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/stores", tok.Value, nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodGet, "/nope", "", nil), http.StatusNotFound)

	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("log line is not JSON: %q", raw)
		}
		if line["msg"] == "request completed" {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("got %d access log lines, want 2: %s", len(lines), buf.String())
	}
	if lines[0]["user_id"] != "44444444-4444-4444-4444-444444444444" || lines[0]["role"] != "ADMIN" {
		t.Fatalf("authenticated request not attributed: %v", lines[0])
	}
	if _, ok := lines[1]["user_id"]; ok {
		t.Fatalf("anonymous request carries a user id: %v", lines[1])
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRatePerMin = 1
	cfg.AuthRateBurst = 2
	ts := buildBareServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		expectStatus(t, ts.do(t, http.MethodPost, "/auth/login", "", `not json`), http.StatusBadRequest)
	}
	rec := ts.do(t, http.MethodPost, "/auth/login", "", `not json`)
	expectCode(t, rec, http.StatusTooManyRequests, "RATE_LIMITED")
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := buildBareServer(t, testConfig(), nil)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]string](t, rec)["status"]; got != "ok" {
		t.Fatalf("health status = %q", got)
	}

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "store_ratings_http_requests_total") {
		t.Fatal("metrics output missing request counter")
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := buildBareServer(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/stores", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := bearerToken(c.header)
		if got != c.token || ok != c.ok {
			t.Fatalf("bearerToken(%q) = %q, %v; want %q, %v", c.header, got, ok, c.token, c.ok)
		}
	}
}

func BenchmarkListStores(b *testing.B) {
	ts := buildTestServer(b)
	for i := 0; i < 20; i++ {
		ts.ownerSignup(b, "Owner", "Bench Store "+string(rune('A'+i)))
	}
	user := ts.signupAndLogin(b, "bench", "bench@example.com")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := ts.do(b, http.MethodGet, "/stores", user.Token, nil)
		if rec.Code != http.StatusOK {
			b.Fatalf("status = %d", rec.Code)
		}
	}
}
