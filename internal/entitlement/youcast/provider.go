// Package youcast implements entitlement.Provider against the YouCast
// middleware API.
package youcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/tvloop/billing/internal/config"
	"github.com/tvloop/billing/internal/entitlement"
	"github.com/tvloop/billing/internal/observability/metrics"
)

type provider struct {
	http    *retryablehttp.Client
	baseURL string
	user    string
	pass    string
	log     *zap.Logger
	metrics *metrics.BillingMetrics
}

func New(cfg config.EntitlementConfig, log *zap.Logger) entitlement.Provider {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &provider{
		http:    rc,
		baseURL: cfg.BaseURL,
		user:    cfg.User,
		pass:    cfg.Password,
		log:     log.Named("entitlement.youcast"),
		metrics: metrics.Billing(),
	}
}

// apiResponse wraps every YouCast answer. On viewer creation the response
// field carries the new viewer id; the middleware signals failure with an
// empty response or the literal "1".
type apiResponse struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

func (p *provider) FindViewer(ctx context.Context, login string) (*entitlement.Viewer, error) {
	var out apiResponse
	err := p.do(ctx, http.MethodPost, "/customer/search", map[string]string{"login": login}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Response) == 0 || string(out.Response) == "null" || string(out.Response) == "false" {
		return nil, nil
	}

	// Search answers with a map keyed by viewer id.
	var viewers map[string]json.RawMessage
	if err := json.Unmarshal(out.Response, &viewers); err != nil {
		return nil, fmt.Errorf("decode viewer search: %w", err)
	}
	for id := range viewers {
		return &entitlement.Viewer{ID: id, Login: login}, nil
	}
	return nil, nil
}

func (p *provider) CreateViewer(ctx context.Context, req entitlement.NewViewerRequest) (*entitlement.Viewer, error) {
	payload := map[string]string{
		"login":    req.Login,
		"name":     req.Name,
		"document": req.Document,
		"email":    req.Email,
	}
	var out apiResponse
	if err := p.do(ctx, http.MethodPost, "/customer/create", payload, &out); err != nil {
		return nil, err
	}

	var id string
	if err := json.Unmarshal(out.Response, &id); err != nil {
		id = string(bytes.Trim(out.Response, `"`))
	}
	if id == "" || id == "1" {
		p.log.Error("viewer creation refused",
			zap.String("login", req.Login),
			zap.String("response", string(out.Response)),
		)
		return nil, fmt.Errorf("create viewer %s: %w", req.Login, entitlement.ErrFailed)
	}
	return &entitlement.Viewer{ID: id, Login: req.Login}, nil
}

func (p *provider) Grant(ctx context.Context, viewerID string, packageCodes []string) error {
	if len(packageCodes) == 0 {
		return nil
	}
	payload := map[string]any{
		"viewers_id": viewerID,
		"products":   packageCodes,
	}
	var out apiResponse
	if err := p.do(ctx, http.MethodPost, "/plan/create", payload, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return fmt.Errorf("grant packages to viewer %s: %s: %w", viewerID, out.Error, entitlement.ErrFailed)
	}
	return nil
}

func (p *provider) Revoke(ctx context.Context, viewerID string, packageCodes []string) error {
	if len(packageCodes) == 0 {
		return nil
	}
	payload := map[string]any{
		"viewers_id": viewerID,
		"products":   packageCodes,
	}
	var out apiResponse
	if err := p.do(ctx, http.MethodPost, "/plan/cancel", payload, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return fmt.Errorf("revoke packages from viewer %s: %s: %w", viewerID, out.Error, entitlement.ErrFailed)
	}
	return nil
}

func (p *provider) do(ctx context.Context, method, path string, payload, out any) error {
	// Paths carry no ids, so they double as the latency label.
	start := time.Now()
	defer func() {
		p.metrics.ObserveGateway(strings.TrimPrefix(path, "/"), time.Since(start))
	}()

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.user, p.pass)

	resp, err := p.http.Do(req)
	if err != nil {
		p.log.Warn("provider unreachable", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, entitlement.ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, entitlement.ErrUnavailable)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, entitlement.ErrUnavailable)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, entitlement.ErrFailed)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
