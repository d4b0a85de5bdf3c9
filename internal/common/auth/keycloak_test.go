package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/common/errors"
)

func newIntrospectionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/matching/protocol/openid-connect/token/introspect", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "workers", r.PostForm.Get("client_id"))
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveReviewer(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
		code    errors.ErrorCode
	}{
		{
			name:   "broker token",
			status: http.StatusOK,
			body:   `{"active":true,"sub":"broker-7","realm_access":{"roles":["member","broker"]}}`,
			want:   "broker-7",
		},
		{
			name:    "missing role",
			status:  http.StatusOK,
			body:    `{"active":true,"sub":"alice","realm_access":{"roles":["member"]}}`,
			wantErr: ErrMissingRole,
		},
		{
			name:    "inactive token",
			status:  http.StatusOK,
			body:    `{"active":false}`,
			wantErr: ErrTokenInactive,
		},
		{
			name:   "keycloak down",
			status: http.StatusServiceUnavailable,
			body:   `maintenance`,
			code:   errors.ErrCodeKeycloakUnavailable,
		},
		{
			name:   "client rejected",
			status: http.StatusUnauthorized,
			body:   `{"error":"invalid_client"}`,
			code:   errors.ErrCodeUnauthorizedReviewer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntrospectionServer(t, tt.status, tt.body)
			k := NewKeycloakClient(srv.URL+"/", "matching", "workers", "secret", "broker")

			got, err := k.ResolveReviewer(context.Background(), "token")
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.code != "":
				var stdErr *errors.StandardError
				require.True(t, stderrors.As(err, &stdErr))
				assert.Equal(t, tt.code, stdErr.Code)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolveReviewer_AnyRoleWhenUnconfigured(t *testing.T) {
	srv := newIntrospectionServer(t, http.StatusOK, `{"active":true,"username":"carol"}`)
	k := NewKeycloakClient(srv.URL, "matching", "workers", "secret", "")

	got, err := k.ResolveReviewer(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "carol", got)
}
