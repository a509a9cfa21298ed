// Package handlers implements the block handlers: HTTP, condition,
// schedule, data-transform, custom-sandbox, blockchain-ops and notifier.
// The HTTP handler's template-substituted URL/headers/body, retry backoff
// and zerolog logging idiom cover a full auth-shape matrix (none, basic,
// bearer, api-key, and a freshly-signed jwt mode) and response-format
// matrix (json, text, xml, html, binary).
package handlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
	"github.com/flowforge/flowexec/internal/template"
)

// dataSourceTemplates backs the legacy price-monitor synthesis branch:
// when config.asset is present and config.url is absent, the handler
// synthesizes a request against a small built-in table of data sources
// instead of requiring the caller to hand-author a URL.
var dataSourceTemplates = map[string]struct {
	URLTemplate string
	DataPath    string
}{
	"default": {
		URLTemplate: "https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd",
		DataPath:    "%s.usd",
	},
}

// HTTPHandler implements the HTTP_REQUEST block kind.
type HTTPHandler struct {
	tp         *template.Processor
	client     *http.Client
	insecureOK *http.Client
}

// NewHTTPHandler constructs an HTTPHandler with a 30s-timeout client.
func NewHTTPHandler(tp *template.Processor) *HTTPHandler {
	return &HTTPHandler{
		tp:     tp,
		client: &http.Client{Timeout: 30 * time.Second},
		insecureOK: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		},
	}
}

func (h *HTTPHandler) Kind() domain.BlockKind { return domain.BlockKindHTTPRequest }

type httpConfig struct {
	URL            string
	Method         string
	Headers        map[string]string
	Body           any
	AuthType       string // none, basic, bearer, api-key, jwt
	AuthUser       string
	AuthPass       string
	AuthToken      string
	AuthHeaderName string
	AuthJWTSecret  string
	AuthJWTSubject string
	AuthJWTClaims  map[string]any
	AuthJWTTTL     time.Duration
	InsecureSSL    bool
	ResponseFormat string // json, text, xml, html, binary
	MaxRetries     int
	Asset          string
}

func (h *HTTPHandler) Execute(ctx context.Context, hctx blockhandler.Context) (map[string]any, error) {
	cfg, err := parseHTTPConfig(hctx.Config)
	if err != nil {
		return nil, domainerr.NewHandlerError("HTTP_REQUEST", err, false)
	}

	td := template.Data{JSON: hctx.PreviousOutputs, Ctx: hctx.ExecutionMeta}

	if cfg.URL == "" && cfg.Asset != "" {
		src := dataSourceTemplates["default"]
		cfg.URL = fmt.Sprintf(src.URLTemplate, cfg.Asset)
		if cfg.Method == "" {
			cfg.Method = http.MethodGet
		}
	}
	if cfg.URL == "" {
		return nil, domainerr.NewHandlerError("HTTP_REQUEST", fmt.Errorf("url is required"), false)
	}

	urlStr, err := h.tp.ProcessString(cfg.URL, td, template.Lenient)
	if err != nil {
		return nil, domainerr.NewHandlerError("HTTP_REQUEST", err, false)
	}

	var lastErr error
	backoff := time.Second
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff) / 10))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(5*time.Second)))
		}

		out, err := h.doOnce(ctx, cfg, urlStr, td)
		if err == nil {
			return out, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("url", urlStr).Int("attempt", attempt+1).Msg("http request attempt failed")
	}
	return nil, domainerr.NewHandlerError("HTTP_REQUEST", lastErr, true)
}

func (h *HTTPHandler) doOnce(ctx context.Context, cfg httpConfig, urlStr string, td template.Data) (map[string]any, error) {
	var bodyReader io.Reader
	if cfg.Body != nil {
		rendered, err := h.tp.ProcessValue(cfg.Body, td, template.Lenient)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(rendered)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return nil, err
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		rendered, _ := h.tp.ProcessString(v, td, template.Lenient)
		req.Header.Set(k, rendered)
	}
	switch cfg.AuthType {
	case "basic":
		req.SetBasicAuth(cfg.AuthUser, cfg.AuthPass)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	case "api-key":
		name := cfg.AuthHeaderName
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, cfg.AuthToken)
	case "jwt":
		signed, err := signRequestJWT(cfg)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+signed)
	}

	client := h.client
	if cfg.InsecureSSL {
		client = h.insecureOK
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	out := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    flattenHeaders(resp.Header),
	}

	switch cfg.ResponseFormat {
	case "text", "xml", "html":
		out["body"] = string(body)
	case "binary":
		out["body"] = body
	default:
		var decoded any
		if json.Unmarshal(body, &decoded) == nil {
			out["body"] = decoded
		} else {
			out["body"] = string(body)
		}
	}

	if cfg.Asset != "" {
		src := dataSourceTemplates["default"]
		path := fmt.Sprintf(src.DataPath, cfg.Asset)
		if reduced, ok := reduceDotPath(out["body"], path); ok {
			out["value"] = reduced
		}
	}

	return out, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// signRequestJWT mints a short-lived HS256 bearer token for outbound
// service-to-service calls that expect a freshly signed JWT rather than a
// long-lived static token.
func signRequestJWT(cfg httpConfig) (string, error) {
	if cfg.AuthJWTSecret == "" {
		return "", fmt.Errorf("jwt auth requires auth.jwtSecret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(cfg.AuthJWTTTL).Unix(),
	}
	if cfg.AuthJWTSubject != "" {
		claims["sub"] = cfg.AuthJWTSubject
	}
	for k, v := range cfg.AuthJWTClaims {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.AuthJWTSecret))
}

func reduceDotPath(v any, path string) (any, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func parseHTTPConfig(c map[string]any) (httpConfig, error) {
	cfg := httpConfig{MaxRetries: 3}
	if v, ok := c["url"].(string); ok {
		cfg.URL = v
	}
	if v, ok := c["method"].(string); ok {
		cfg.Method = strings.ToUpper(v)
	}
	if v, ok := c["headers"].(map[string]any); ok {
		cfg.Headers = make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}
	cfg.Body = c["body"]
	if v, ok := c["auth"].(map[string]any); ok {
		if t, ok := v["type"].(string); ok {
			cfg.AuthType = t
		}
		if s, ok := v["username"].(string); ok {
			cfg.AuthUser = s
		}
		if s, ok := v["password"].(string); ok {
			cfg.AuthPass = s
		}
		if s, ok := v["token"].(string); ok {
			cfg.AuthToken = s
		}
		if s, ok := v["headerName"].(string); ok {
			cfg.AuthHeaderName = s
		}
		if s, ok := v["jwtSecret"].(string); ok {
			cfg.AuthJWTSecret = s
		}
		if s, ok := v["jwtSubject"].(string); ok {
			cfg.AuthJWTSubject = s
		}
		if m, ok := v["jwtClaims"].(map[string]any); ok {
			cfg.AuthJWTClaims = m
		}
		cfg.AuthJWTTTL = 5 * time.Minute
		if n, ok := v["jwtTTLSeconds"].(float64); ok && n > 0 {
			cfg.AuthJWTTTL = time.Duration(n) * time.Second
		}
	}
	if v, ok := c["insecureSSL"].(bool); ok {
		cfg.InsecureSSL = v
	}
	if v, ok := c["responseFormat"].(string); ok {
		cfg.ResponseFormat = v
	}
	if v, ok := c["maxRetries"].(float64); ok {
		cfg.MaxRetries = int(v)
	}
	if v, ok := c["asset"].(string); ok {
		cfg.Asset = v
	}
	return cfg, nil
}
