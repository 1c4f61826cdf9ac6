package transport

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestSharedKeyAuthenticatorAppliesQueryParams(t *testing.T) {
	auth := &SharedKeyAuthenticator{ServerKey: "sk", HardwareKey: "hw"}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	q := url.Values{}
	auth.Apply(req, q)
	if q.Get("serverKey") != "sk" || q.Get("hardwareKey") != "hw" {
		t.Errorf("unexpected query: %v", q)
	}
}

func TestTokenAuthenticatorNeedsRefreshAt80Percent(t *testing.T) {
	auth := NewTokenAuthenticator("sk", "hw")
	auth.OnRegister(&RegisterResponse{Token: "tok", ExpiresIn: 100})
	if auth.NeedsRefresh() {
		t.Error("should not need refresh immediately after issuance")
	}

	auth.issuedAt = time.Now().Add(-85 * time.Second)
	if !auth.NeedsRefresh() {
		t.Error("expected refresh to be needed past 80% of a 100s TTL")
	}
}

func TestTokenAuthenticatorFallsBackToServerKeyBeforeRegister(t *testing.T) {
	auth := NewTokenAuthenticator("sk", "hw")
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	q := url.Values{}
	auth.Apply(req, q)
	if q.Get("serverKey") != "sk" {
		t.Errorf("expected shared-key fallback before the first register(), got %v", q)
	}
}
