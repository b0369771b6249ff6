package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

const (
	defaultPartnerTimeout = 30 * time.Second
	defaultAPIKeyHeader   = "X-API-Key"
	maxResponseBytes      = 10 << 20
)

// Headers that must not be forwarded between hops.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// PartnerResponse is the partner's answer, buffered for relay to the
// client.
type PartnerResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder builds and executes outbound partner calls with credential
// injection and a per-partner timeout.
type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

// NewForwarder creates a forwarder. Per-call deadlines come from the
// partner configuration, so the shared client carries no global timeout.
func NewForwarder(logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		client: &http.Client{},
		logger: logger,
	}
}

// Forward sends the (possibly transformed) request to the partner and
// buffers the response. Transport errors map to 502, an unusable target
// to 500; a partner 5xx is still returned as a response for relay.
func (f *Forwarder) Forward(ctx context.Context, partner *config.Partner, r *http.Request, body []byte, forwardPath string) (*PartnerResponse, error) {
	target, err := joinTarget(partner.BaseURL, forwardPath, r.URL.RawQuery)
	if err != nil {
		return nil, util.NewGatewayError(http.StatusInternalServerError, "invalid partner target",
			util.NewPartnerError("forward", partner.ID, util.ErrPartnerBadTarget))
	}

	timeout := partner.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultPartnerTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, util.NewGatewayError(http.StatusInternalServerError, "invalid partner target",
			util.NewPartnerError("forward", partner.ID, err))
	}

	copyForwardHeaders(req.Header, r.Header)
	for k, v := range partner.Headers {
		req.Header.Set(k, v)
	}
	injectCredential(req, &partner.Credential)
	if len(body) > 0 && req.Header.Get(util.HeaderContentType) == "" {
		req.Header.Set(util.HeaderContentType, util.ContentTypeJSON)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("partner call failed",
			zap.String("partner", partner.ID),
			zap.String("target", target),
			zap.Error(err))
		return nil, util.NewGatewayError(http.StatusBadGateway, "partner unreachable",
			util.NewPartnerError("forward", partner.ID, util.ErrPartnerTransport))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, util.NewGatewayError(http.StatusBadGateway, "partner response read failed",
			util.NewPartnerError("forward", partner.ID, util.ErrPartnerTransport))
	}

	header := make(http.Header, len(resp.Header))
	copyForwardHeaders(header, resp.Header)

	return &PartnerResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       respBody,
	}, nil
}

func joinTarget(baseURL, forwardPath, rawQuery string) (string, error) {
	target, err := url.JoinPath(baseURL, forwardPath)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", util.ErrPartnerBadTarget
	}
	u.RawQuery = rawQuery
	return u.String(), nil
}

func copyForwardHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Content-Length")
}

// injectCredential sets the partner's outbound credential, replacing any
// client-supplied value for the same header.
func injectCredential(req *http.Request, cred *config.PartnerCredential) {
	switch cred.Type {
	case config.CredentialBearer:
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	case config.CredentialAPIKey:
		header := cred.Header
		if header == "" {
			header = defaultAPIKeyHeader
		}
		req.Header.Set(header, cred.Value)
	case config.CredentialBasic:
		if user, pass, ok := strings.Cut(cred.Value, ":"); ok {
			req.SetBasicAuth(user, pass)
		} else {
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred.Value)))
		}
	}
}
