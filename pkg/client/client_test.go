package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoginStoresToken(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"session":{"accessToken":"at-1","accessTokenExpiresIn":900,"refreshToken":"rt-1","user":{"id":"u-1"}}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res, err := c.Login(context.Background(), "user@example.com", "longenough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotBody["email"] != "user@example.com" || gotBody["password"] != "longenough" {
		t.Fatalf("unexpected payload: %v", gotBody)
	}
	if res.Session == nil || res.Session.AccessToken != "at-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if c.Token != "at-1" {
		t.Fatalf("token not stored, got %q", c.Token)
	}
}

func TestLoginReturnsMFAChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"mfa":{"ticket":"t-1"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res, err := c.Login(context.Background(), "mfa@example.com", "longenough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Session != nil || res.MFA == nil || res.MFA.Ticket != "t-1" {
		t.Fatalf("expected an mfa challenge, got %+v", res)
	}
	if c.Token != "" {
		t.Fatalf("no token until the challenge is completed")
	}
}

func TestRegisterWithPendingVerification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"user":{"id":"u-1","email":"new@example.com","emailVerified":false}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res, err := c.Register(context.Background(), RegisterParams{
		Email:    "new@example.com",
		Password: "longenough",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Session != nil || res.User == nil || res.User.ID != "u-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if c.Token != "" {
		t.Fatalf("no token before verification")
	}
}

func TestAuthAndAdminHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Admin-Secret"); got != "s3cret" {
			t.Errorf("expected admin secret header, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("expected bearer token, got %q", got)
		}
		switch {
		case r.Method == "POST" && r.URL.Path == "/whitelist":
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"message":"email whitelisted"}`)
		case r.Method == "GET" && r.URL.Path == "/whitelist":
			if r.URL.Query().Get("email") != "vip@example.com" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			fmt.Fprint(w, `{"whitelisted":true}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AdminSecret: "s3cret"})
	c.SetToken("at-1")

	if err := c.WhitelistEmail(context.Background(), "vip@example.com", true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	ok, err := c.IsWhitelisted(context.Background(), "vip@example.com")
	if err != nil || !ok {
		t.Fatalf("expected whitelisted, got %v %v", ok, err)
	}
}

func TestAPIErrorsCarryStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_credentials","error_description":"invalid email or password"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Login(context.Background(), "user@example.com", "wrongwrong")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(err.Error(), "API error 401") || !strings.Contains(err.Error(), "invalid_credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Token != "" {
		t.Fatalf("no token on failure")
	}
}

func TestLogoutAllClearsToken(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"message":"logged out successfully"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	c.SetToken("at-1")
	if err := c.LogoutAll(context.Background()); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if gotBody["all"] != true {
		t.Fatalf("unexpected payload: %v", gotBody)
	}
	if c.Token != "" {
		t.Fatalf("token must be dropped, got %q", c.Token)
	}
}

func TestLoginAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["anonymous"] != true {
			t.Errorf("expected anonymous flag, got %v (%v)", body, err)
		}
		fmt.Fprint(w, `{"session":{"accessToken":"at-2","refreshToken":"rt-2","user":{"id":"u-2","isAnonymous":true}}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	session, err := c.LoginAnonymous(context.Background())
	if err != nil {
		t.Fatalf("anonymous login: %v", err)
	}
	if session.AccessToken != "at-2" || !session.User.IsAnonymous {
		t.Fatalf("unexpected session: %+v", session)
	}
}
