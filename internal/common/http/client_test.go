package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"echo":"` + r.PostForm.Get("q") + `"}`))
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	c := NewClient(time.Second)
	require.NoError(t, c.PostForm(context.Background(), srv.URL, url.Values{"q": {"hello"}}, &out))
	assert.Equal(t, "hello", out.Echo)
}

func TestClient_PostForm_StatusError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			err := NewClient(time.Second).PostForm(context.Background(), srv.URL, url.Values{}, nil)
			var statusErr *StatusError
			require.True(t, stderrors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "nope", statusErr.Body)
			assert.Equal(t, tt.transient, statusErr.Transient())
		})
	}
}

func TestClient_PostForm_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient(time.Second).PostForm(ctx, srv.URL, url.Values{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
