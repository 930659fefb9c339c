// Package auth implements ArcGIS token authentication for layers behind a secured Feature
// Service: exchange credentials for a short-lived token, cache it, refresh near expiry.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	resty "github.com/go-resty/resty/v2"

	"github.com/nikhilvedi/esrigeo/internal/esrierrors"
	"github.com/nikhilvedi/esrigeo/internal/utils"
)

// defaultTokenURL is ArcGIS Online's shared token endpoint; on-premise Portal deployments
// pass their own via Config.TokenURL.
const defaultTokenURL = "https://www.arcgis.com/sharing/rest/generateToken"

// tokenResponse is the generateToken response shape.
type tokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"` // epoch milliseconds
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Config carries the credentials used to mint ArcGIS tokens.
type Config struct {
	Username string
	Password string
	Referer  string
	TokenURL string
	Client   *resty.Client // optional; a default client is created if nil
}

// Service mints and caches ArcGIS tokens, refreshing shortly before expiry.
type Service struct {
	cfg    Config
	client *resty.Client
	logger *utils.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewService builds a token Service from Config.
func NewService(cfg Config) *Service {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	client := cfg.Client
	if client == nil {
		client = resty.New().SetTimeout(30 * time.Second)
	}
	return &Service{cfg: cfg, client: client, logger: utils.NewLogger("auth")}
}

// Token returns a valid token, minting a fresh one if none is cached or the cached one is
// within a minute of expiring.
func (s *Service) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Add(time.Minute).Before(s.expires) {
		return s.token, nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": s.cfg.Username,
			"password": s.cfg.Password,
			"referer":  s.cfg.Referer,
			"f":        "json",
		}).
		Post(s.cfg.TokenURL)
	if err != nil {
		return "", esrierrors.NewTransportRetryable("generate arcgis token", err)
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", esrierrors.NewParse("generate arcgis token", err)
	}
	if body.Error != nil {
		return "", esrierrors.NewDownload("generate arcgis token", resp.StatusCode(), body.Error.Message, fmt.Sprintf("code %d", body.Error.Code))
	}
	if body.Token == "" {
		return "", esrierrors.NewDownload("generate arcgis token", resp.StatusCode(), "token response missing token", "")
	}

	s.token = body.Token
	s.expires = time.UnixMilli(body.Expires)
	s.logger.Info("minted arcgis token, expires %s", s.expires.Format(time.RFC3339))

	return s.token, nil
}

// WithToken overlays a "token" query argument onto extra, suitable for merging into a
// dumper.Config's ExtraQueryArgs.
func WithToken(ctx context.Context, s *Service, extra map[string]string) (map[string]string, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		merged[k] = v
	}
	merged["token"] = tok
	return merged, nil
}
