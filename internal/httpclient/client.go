// Package httpclient is the single outbound HTTP surface for talking to Esri servers: one
// request operation with timeout, a one-shot TLS-verify retry, proxy rewriting, an optional
// GET-only mode, and Esri error-payload decoding. Built on resty.
package httpclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilvedi/esrigeo/internal/esrierrors"
	"github.com/nikhilvedi/esrigeo/internal/utils"
)

// Method is an HTTP verb understood by Requester.Request.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Options configures a Requester; all fields are optional.
type Options struct {
	TimeoutSeconds int
	ProxyURL       string
	UseOnlyGet     bool
	Headers        map[string]string
}

// Requester issues every outbound call for one dump. It is not safe for concurrent use;
// each iterator keeps at most one request in flight.
type Requester struct {
	client       *resty.Client
	insecure     *resty.Client
	proxyURL     string
	useOnlyGet   bool
	extraHeaders map[string]string
	logger       *utils.Logger
}

// New builds a Requester from Options.
func New(opts Options) *Requester {
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	client := resty.New().SetTimeout(secondsToDuration(timeout))
	insecure := resty.New().
		SetTimeout(secondsToDuration(timeout)).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) // #nosec G402 -- deliberate one-shot fallback, see Request

	return &Requester{
		client:       client,
		insecure:     insecure,
		proxyURL:     opts.ProxyURL,
		useOnlyGet:   opts.UseOnlyGet,
		extraHeaders: opts.Headers,
		logger:       utils.NewLogger("httpclient"),
	}
}

// Request performs one HTTP call and returns the parsed JSON body. errorLabel identifies the
// calling operation for error messages (e.g. "fetch metadata", "query page"). When
// allowErrorPayload is false, a body shaped {"error": {...}} raises a Download error instead
// of being returned to the caller.
func (r *Requester) Request(ctx context.Context, method Method, rawURL string, params map[string]string, headers map[string]string, errorLabel string, allowErrorPayload bool) (map[string]interface{}, error) {
	targetURL := rawURL
	if r.proxyURL != "" {
		targetURL = r.rewriteThroughProxy(rawURL, params)
		params = nil // folded into the URL string above
	}

	body, err := r.do(ctx, r.client, method, targetURL, params, headers)
	if err != nil {
		if isTLSVerificationError(err) {
			r.logger.Warn("TLS verification failed for %s, retrying once without verification", errorLabel)
			body, err = r.do(ctx, r.insecure, method, targetURL, params, headers)
		}
		if err != nil {
			return nil, classifyTransportError(errorLabel, err)
		}
	}

	return r.decode(body.StatusCode(), body.Body(), errorLabel, allowErrorPayload)
}

func (r *Requester) do(ctx context.Context, client *resty.Client, method Method, targetURL string, params map[string]string, headers map[string]string) (*resty.Response, error) {
	req := client.R().SetContext(ctx)
	for k, v := range r.extraHeaders {
		req.SetHeader(k, v)
	}
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	effectiveMethod := method
	if r.useOnlyGet {
		effectiveMethod = MethodGet
	}

	switch effectiveMethod {
	case MethodGet:
		if len(params) > 0 {
			req.SetQueryParams(params)
		}
		return req.Get(targetURL)
	default:
		if len(params) > 0 {
			req.SetFormData(params)
		}
		return req.Post(targetURL)
	}
}

func (r *Requester) rewriteThroughProxy(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return r.proxyURL + rawURL
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return r.proxyURL + u.String()
}

func (r *Requester) decode(status int, raw []byte, errorLabel string, allowErrorPayload bool) (map[string]interface{}, error) {
	if status != 200 {
		return nil, esrierrors.NewDownload(errorLabel, status, "non-200 response", string(raw))
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, esrierrors.NewParse(errorLabel, err)
	}

	if !allowErrorPayload {
		if errObj, ok := body["error"]; ok {
			msg, details := decodeEsriError(errObj)
			return nil, esrierrors.NewDownload(errorLabel, status, msg, details)
		}
	}

	return body, nil
}

func decodeEsriError(errObj interface{}) (message, details string) {
	m, ok := errObj.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("%v", errObj), ""
	}
	if msg, ok := m["message"].(string); ok {
		message = msg
	}
	if d, ok := m["details"]; ok {
		details = fmt.Sprintf("%v", d)
	}
	return message, details
}

func isTLSVerificationError(err error) bool {
	return strings.Contains(err.Error(), "x509") || strings.Contains(err.Error(), "certificate")
}

func classifyTransportError(label string, err error) error {
	if strings.Contains(err.Error(), "context deadline exceeded") || strings.Contains(err.Error(), "timeout") {
		return esrierrors.NewTimeout(label, err)
	}
	return esrierrors.NewTransportRetryable(label, err)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
