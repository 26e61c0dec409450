package service

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/ltpa"
	"github.com/oarkflow/ltpa/config"
	"github.com/oarkflow/ltpa/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	kmOnce sync.Once
	testKM *token.KeyMaterial
	kmErr  error
)

func testKeyMaterial(t *testing.T) *token.KeyMaterial {
	t.Helper()
	kmOnce.Do(func() {
		var priv *rsa.PrivateKey
		if priv, kmErr = rsa.GenerateKey(rand.Reader, 1024); kmErr != nil {
			return
		}
		shared := make([]byte, 24)
		if _, kmErr = rand.Read(shared); kmErr != nil {
			return
		}
		testKM, kmErr = token.NewKeyMaterial(shared, &token.RSAKey{
			E: big.NewInt(int64(priv.E)),
			P: priv.Primes[0],
			Q: priv.Primes[1],
		}, "defaultRealm")
	})
	if kmErr != nil {
		t.Fatalf("test key material: %v", kmErr)
	}
	return testKM
}

type fixture struct {
	svc     *Service
	metrics *Metrics
	now     time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		metrics: NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	opts.Metrics = f.metrics
	opts.Now = func() time.Time { return f.now }
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(testKeyMaterial(t), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.svc = svc
	return f
}

// roundTrip issues cookies for dn and returns a request carrying them.
func (f *fixture) roundTrip(t *testing.T, dn string) (*http.Request, []*http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := f.svc.IssueCookies(rec, httptest.NewRequest(http.MethodPost, "/login", nil), dn); err != nil {
		t.Fatalf("IssueCookies failed: %v", err)
	}
	cookies := rec.Result().Cookies()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req, cookies
}

func TestIssueAndReadCookies(t *testing.T) {
	f := newFixture(t, Options{Interoperability: true, CookieDomain: ".example.com"})
	req, cookies := f.roundTrip(t, "uid=bob,ou=people,o=example")

	if len(cookies) != 2 || cookies[0].Name != ltpa.CookieNameV2 || cookies[1].Name != ltpa.CookieNameV1 {
		t.Fatalf("unexpected cookies: %v", cookies)
	}
	for _, c := range cookies {
		if c.Path != "/" || c.Domain != "example.com" || !c.HttpOnly || c.Secure || c.MaxAge != 0 {
			t.Fatalf("unexpected cookie attributes: %+v", c)
		}
	}

	uid, ok := f.svc.UserUID(req)
	if !ok || uid != "bob" {
		t.Fatalf("UserUID() = %q, %v", uid, ok)
	}
	m, err := f.svc.UserMetadata(req)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.UnescapedUser(); got != "user:defaultRealm/uid=bob,ou=people,o=example" {
		t.Fatalf("user = %q", got)
	}
	if m.Version != ltpa.Version2 {
		t.Fatalf("read version %s, want the LtpaToken2 cookie", m.Version)
	}
	if got := testutil.ToFloat64(f.metrics.Issued.WithLabelValues("LtpaToken", resultOK)); got != 1 {
		t.Fatalf("issued V1 = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.Decodes.WithLabelValues("LtpaToken2", resultOK)); got != 2 {
		t.Fatalf("decoded V2 = %v", got)
	}
}

func TestReadVersion1Cookie(t *testing.T) {
	f := newFixture(t, Options{Interoperability: true})
	_, cookies := f.roundTrip(t, "uid=carol,o=example")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		if c.Name == ltpa.CookieNameV1 {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	if uid, ok := f.svc.UserUID(req); !ok || uid != "carol" {
		t.Fatalf("UserUID() = %q, %v", uid, ok)
	}

	strict := newFixture(t, Options{})
	if _, err := strict.svc.UserMetadata(req); !errors.Is(err, ErrNoToken) {
		t.Fatalf("V1 cookie accepted without interoperability: %v", err)
	}
}

func TestExpiredCookie(t *testing.T) {
	f := newFixture(t, Options{TTL: time.Hour, ClockSkew: time.Minute})
	req, _ := f.roundTrip(t, "uid=dave,o=example")
	f.now = f.now.Add(2 * time.Hour)
	if _, err := f.svc.UserMetadata(req); !errors.Is(err, ltpa.ErrExpired) {
		t.Fatalf("UserMetadata() = %v, want ErrExpired", err)
	}
	if got := testutil.ToFloat64(f.metrics.Decodes.WithLabelValues("LtpaToken2", resultExpired)); got != 1 {
		t.Fatalf("expired count = %v", got)
	}
}

func TestGarbageCookie(t *testing.T) {
	f := newFixture(t, Options{LogThrottle: 1})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ltpa.CookieNameV2, Value: "bm90LWEtdG9rZW4"})
	for i := 0; i < 3; i++ {
		if _, ok := f.svc.UserUID(req); ok {
			t.Fatal("garbage cookie accepted")
		}
	}
	if got := testutil.ToFloat64(f.metrics.Decodes.WithLabelValues("LtpaToken2", resultCrypto)); got != 3 {
		t.Fatalf("crypto failures = %v", got)
	}

	none := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := f.svc.UserMetadata(none); !errors.Is(err, ErrNoToken) {
		t.Fatalf("UserMetadata() = %v, want ErrNoToken", err)
	}
}

func TestIssueCookiesRejectsForeignDN(t *testing.T) {
	f := newFixture(t, Options{})
	rec := httptest.NewRecorder()
	if err := f.svc.IssueCookies(rec, httptest.NewRequest(http.MethodPost, "/", nil), "cn=admin,o=example"); err == nil {
		t.Fatal("DN without the uid prefix accepted")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("cookies set for a rejected DN")
	}
}

func TestIssueCookiesRejectsTrailingBackslash(t *testing.T) {
	f := newFixture(t, Options{Interoperability: true})
	rec := httptest.NewRecorder()
	err := f.svc.IssueCookies(rec, httptest.NewRequest(http.MethodPost, "/", nil), `uid=bob,o=ex\`)
	if !errors.Is(err, ltpa.ErrFormat) {
		t.Fatalf("IssueCookies() = %v, want format error", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("cookies set for an unencodable DN")
	}
}

func TestReadOnlyIssuesNothing(t *testing.T) {
	f := newFixture(t, Options{ReadOnly: true})
	rec := httptest.NewRecorder()
	if err := f.svc.IssueCookies(rec, httptest.NewRequest(http.MethodPost, "/", nil), "uid=erin"); err != nil {
		t.Fatalf("IssueCookies failed: %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("read-only service issued cookies")
	}
}

func TestClearCookies(t *testing.T) {
	f := newFixture(t, Options{Interoperability: true})
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()
	f.svc.ClearCookies(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	for _, c := range cookies {
		if c.Value != "" || c.MaxAge >= 0 || !c.Secure {
			t.Fatalf("cookie not cleared: %+v", c)
		}
	}
	if got := testutil.ToFloat64(f.metrics.Cleared); got != 1 {
		t.Fatalf("clears = %v", got)
	}
}

func TestUIDFromUser(t *testing.T) {
	cases := []struct {
		user, prefix, want string
		ok                 bool
	}{
		{"user:defaultRealm/uid=bob,ou=people,o=example", "uid", "bob", true},
		{"uid=alice", "uid", "alice", true},
		{"user:realm/cn=Jane Doe,o=example", "cn", "Jane Doe", true},
		{"user:realm/xuid=eve,uid=frank,o=x", "uid", "frank", true},
		{"user:realm/cn=bob", "uid", "", false},
		{"user:realm/uid=,o=x", "uid", "", false},
		{"uid=bob", "", "", false},
	}
	for _, tc := range cases {
		got, ok := UIDFromUser(tc.user, tc.prefix)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("UIDFromUser(%q, %q) = %q, %v", tc.user, tc.prefix, got, ok)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	b, err := testKeyMaterial(t).ExportBundle("WebAS")
	if err != nil {
		t.Fatal(err)
	}
	if err := config.WriteKeysFile(filepath.Join(dir, "ltpa.keys"), &config.KeysFile{Password: "WebAS", Bundle: b}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "ltpa.yaml")
	if err := os.WriteFile(path, []byte("interoperability: false\ncreate_token: false\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewFromConfig(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if svc.interop || !svc.readOnly || svc.realm != "defaultRealm" {
		t.Fatalf("service ignored config: interop=%v readOnly=%v realm=%q", svc.interop, svc.readOnly, svc.realm)
	}
}
