package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/skyline-signage/player-core/internal/playererr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.MaxRetries = 1
	auth := &SharedKeyAuthenticator{ServerKey: "secret", HardwareKey: "hw-1"}
	return New(cfg, auth), server
}

func TestRegisterSendsCredentialsAndParsesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("serverKey") != "secret" {
			t.Errorf("missing serverKey in query: %v", r.URL.Query())
		}
		if r.URL.Query().Get("hardwareKey") != "hw-1" {
			t.Errorf("missing hardwareKey in query: %v", r.URL.Query())
		}
		w.Write([]byte(`{"code":"READY","message":"ok","settings":{"collectInterval":900}}`))
	})

	resp, err := client.Register(context.Background(), RegisterRequest{HardwareKey: "hw-1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Code != RegisterReady {
		t.Errorf("code = %v, want READY", resp.Code)
	}
	if resp.Settings["collectInterval"] != float64(900) {
		t.Errorf("settings = %v", resp.Settings)
	}
}

func TestRequiredFilesHonoursETagCache(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Write([]byte(`{"files":[{"kind":"media","id":"1"}],"purge":[]}`))
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("expected If-None-Match on second call, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	})

	first, err := client.RequiredFiles(context.Background())
	if err != nil {
		t.Fatalf("first RequiredFiles: %v", err)
	}
	second, err := client.RequiredFiles(context.Background())
	if err != nil {
		t.Fatalf("second RequiredFiles: %v", err)
	}
	if len(second.Files) != len(first.Files) {
		t.Errorf("expected cached body on 304, got %+v vs %+v", second, first)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 requests, got %d", calls)
	}
}

func TestNotFoundMapsToNotFoundKind(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.GetResource(context.Background(), "1", "2", "3")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !playererr.Is(err, playererr.NotFound) {
		t.Errorf("err = %v, want NotFound kind", err)
	}
}

func TestUnauthorizedMapsToAuthKind(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := client.NotifyStatus(context.Background(), StatusReport{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !playererr.Is(err, playererr.Auth) {
		t.Errorf("err = %v, want Auth kind", err)
	}
}

func TestServerErrorRetriesThenFails(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := client.NotifyStatus(context.Background(), StatusReport{})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls < 2 {
		t.Errorf("expected at least one retry, got %d calls", calls)
	}
}

func TestGetRangeSetsRangeHeader(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=10-19" {
			t.Errorf("Range header = %q", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	})
	data, partial, err := client.GetRange(context.Background(), server.URL+"/media/1", 10, 19)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if !partial {
		t.Error("expected partial=true for 206 response")
	}
	if string(data) != "0123456789" {
		t.Errorf("data = %q", data)
	}
}

func TestTokenAuthenticatorUsesBearerAfterRegister(t *testing.T) {
	var sawBearer bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/register" {
			w.Write([]byte(`{"code":"READY","token":"tok-123","expiresIn":1000}`))
			return
		}
		if r.Header.Get("Authorization") == "Bearer tok-123" {
			sawBearer = true
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	auth := NewTokenAuthenticator("secret", "hw-1")
	client := New(cfg, auth)

	if _, err := client.Register(context.Background(), RegisterRequest{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := client.GetWeather(context.Background()); err != nil {
		t.Fatalf("GetWeather: %v", err)
	}
	if !sawBearer {
		t.Error("expected the bearer token issued by register() to be used on the next call")
	}
}
