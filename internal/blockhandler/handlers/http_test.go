package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/template"
)

func newTestHTTPHandler() *HTTPHandler {
	return NewHTTPHandler(template.New())
}

func TestHTTPHandler_GetJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hello":"world"}`))
	}))
	defer srv.Close()

	h := newTestHTTPHandler()
	hctx := blockhandler.Context{
		Config:          map[string]any{"url": srv.URL, "method": "GET"},
		PreviousOutputs: map[string]any{},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, 200, out["statusCode"])
	body, ok := out["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "world", body["hello"])
}

func TestHTTPHandler_MissingURLErrorsWithoutRetry(t *testing.T) {
	h := newTestHTTPHandler()
	_, err := h.Execute(context.Background(), blockhandler.Context{Config: map[string]any{}})
	assert.Error(t, err)
}

func TestHTTPHandler_BasicAuthSetsHeader(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	h := newTestHTTPHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"url":    srv.URL,
			"method": "GET",
			"auth": map[string]any{
				"type":     "basic",
				"username": "alice",
				"password": "secret",
			},
		},
	}
	_, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestHTTPHandler_JWTAuthSignsValidToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	h := newTestHTTPHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"url":    srv.URL,
			"method": "GET",
			"auth": map[string]any{
				"type":      "jwt",
				"jwtSecret": "shh-secret",
				"jwtSubject": "worker-1",
				"jwtClaims": map[string]any{"scope": "execute"},
			},
		},
	}
	_, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	require.True(t, len(gotAuth) > len("Bearer "))

	tokenStr := gotAuth[len("Bearer "):]
	parsed, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
		return []byte("shh-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "worker-1", claims["sub"])
	assert.Equal(t, "execute", claims["scope"])
}

func TestHTTPHandler_JWTAuthMissingSecretErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	h := newTestHTTPHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"url":    srv.URL,
			"method": "GET",
			"auth":   map[string]any{"type": "jwt"},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Execute(ctx, hctx)
	assert.Error(t, err)
}

func TestHTTPHandler_NonJSONResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	h := newTestHTTPHandler()
	hctx := blockhandler.Context{
		Config: map[string]any{
			"url":            srv.URL,
			"method":         "GET",
			"responseFormat": "text",
		},
	}
	out, err := h.Execute(context.Background(), hctx)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out["body"])
}
