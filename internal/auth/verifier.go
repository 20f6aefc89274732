package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/renderbank/renderbank/internal/auth/domain"
	"github.com/renderbank/renderbank/internal/config"
	"go.uber.org/zap"
)

const maxIdentityBody = 1 << 20

// HTTPVerifier checks bearer tokens against the identity provider's
// whoami endpoint. Responses are not cached; the provider is the single
// source of truth for revocation.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewHTTPVerifier(cfg config.Config, log *zap.Logger) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: strings.TrimRight(cfg.AuthEndpoint, "/"),
		client:   &http.Client{Timeout: cfg.AuthTimeout},
		log:      log.Named("auth.verifier"),
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, bearerToken string) (domain.Identity, error) {
	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"/v1/me", nil)
	if err != nil {
		return domain.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn("identity provider unreachable", zap.Error(err))
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Identity{}, domain.ErrUnauthorized
	default:
		return domain.Identity{}, fmt.Errorf("%w: identity provider returned %d", domain.ErrAuthUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthUnavailable, err)
	}

	var id domain.Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: malformed identity response", domain.ErrAuthUnavailable)
	}
	if strings.TrimSpace(id.AccountKey) == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return id, nil
}
