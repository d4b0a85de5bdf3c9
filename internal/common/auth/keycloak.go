// Package auth verifies broker access tokens against Keycloak.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"matching-workers/internal/common/errors"
	httpclient "matching-workers/internal/common/http"
)

var (
	ErrTokenInactive = stderrors.New("token is not active")
	ErrMissingRole   = stderrors.New("token lacks the broker role")
)

// KeycloakClient introspects access tokens with the worker's confidential
// client credentials.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	brokerRole   string
	httpClient   *httpclient.Client
}

// TokenInfo holds the fields of the introspection response the workers use.
type TokenInfo struct {
	Active      bool   `json:"active"`
	Sub         string `json:"sub,omitempty"`
	Username    string `json:"username,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Exp         int64  `json:"exp,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// HasRole reports whether the token carries the realm role.
func (t *TokenInfo) HasRole(role string) bool {
	for _, r := range t.RealmAccess.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret, brokerRole string) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		brokerRole:   brokerRole,
		httpClient:   httpclient.NewClient(10 * time.Second),
	}
}

// ValidateToken checks that an access token is active.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	var info TokenInfo
	err := k.httpClient.PostForm(ctx, introspectURL, data, &info)
	var statusErr *httpclient.StatusError
	switch {
	case stderrors.As(err, &statusErr):
		if statusErr.Transient() {
			return nil, errors.NewKeycloakUnavailableError(statusErr)
		}
		return nil, errors.NewUnauthorizedReviewerError(statusErr.Error())
	case err != nil:
		return nil, errors.NewKeycloakUnavailableError(err)
	}
	if !info.Active {
		return nil, ErrTokenInactive
	}
	return &info, nil
}

// ResolveReviewer returns the subject of an active token that carries the
// configured broker role. An empty broker role accepts any active token.
func (k *KeycloakClient) ResolveReviewer(ctx context.Context, token string) (string, error) {
	info, err := k.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	if k.brokerRole != "" && !info.HasRole(k.brokerRole) {
		return "", fmt.Errorf("%w: %s", ErrMissingRole, k.brokerRole)
	}
	if info.Sub != "" {
		return info.Sub, nil
	}
	return info.Username, nil
}
