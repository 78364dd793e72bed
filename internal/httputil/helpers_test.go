package httputil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return n
}

func TestClientIP_IgnoresForwardedWithoutTrust(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.5:4321"
	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	if got := ClientIPWithTrustedProxies(r, nil); got != "203.0.113.5" {
		t.Errorf("expected 203.0.113.5, got %s", got)
	}
}

func TestClientIP_TrustedProxy(t *testing.T) {
	proxies := []*net.IPNet{mustCIDR(t, "10.0.0.0/8")}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:80"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.1.2.3")
	if got := ClientIPWithTrustedProxies(r, proxies); got != "198.51.100.7" {
		t.Errorf("expected 198.51.100.7, got %s", got)
	}

	r.Header.Set("X-Forwarded-For", "garbage")
	if got := ClientIPWithTrustedProxies(r, proxies); got != "10.1.2.3" {
		t.Errorf("expected fallback to peer, got %s", got)
	}

	r.RemoteAddr = "192.0.2.1:80"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := ClientIPWithTrustedProxies(r, proxies); got != "192.0.2.1" {
		t.Errorf("expected untrusted peer address, got %s", got)
	}
}

func TestClientIP_OpaqueRemote(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "@unix-socket"
	if got := ClientIPWithTrustedProxies(r, nil); got != "@unix-socket" {
		t.Errorf("expected opaque address, got %s", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(zerolog.Nop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("expected logger in context")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("expected generated request ID echoed, got %q / %q", seen, rec.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("expected propagated request ID, got %q", seen)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, "") != "abc" {
		t.Errorf("expected abc, got %v", order)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Errorf("unexpected content type %s", rec.Header().Get("Content-Type"))
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"unauthorized"}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
