package drive

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// failingToken is a test TokenSource that always returns an error.
type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", errors.New("token error")
}

// newTestClient creates a Client whose metadata and upload endpoints both
// point at the given httptest server.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, url+"/upload", http.DefaultClient, StaticToken("test-token"), slog.Default(), "test-agent")
	c.sleepFunc = noopSleep

	return c
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/about", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusTeapot, ErrUnexpected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"code":1,"message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/files", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestDo_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/files", nil)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_RetryOn5xxWhenEnabled(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		body := make([]byte, 4)
		n, _ := r.Body.Read(body)
		assert.Equal(t, "data", string(body[:n]), "body is replayed on retry")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetMaxRetries(3)

	resp, err := c.Do(context.Background(), http.MethodPost, "/files", []byte("data"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RetryHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetMaxRetries(1)

	var slept time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	resp, err := c.Do(context.Background(), http.MethodGet, "/files", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 7*time.Second, slept)
}

func TestDo_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetMaxRetries(5)

	_, err := c.Do(context.Background(), http.MethodGet, "/files", nil)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, srv.URL).Do(ctx, http.MethodGet, "/files", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_TokenError(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "", http.DefaultClient, failingToken{}, nil, "")

	_, err := c.Do(context.Background(), http.MethodGet, "/files", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token error")
}

func TestDo_ContentTypeOnlyWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		} else {
			assert.Empty(t, r.Header.Get("Content-Type"))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	resp, err := c.Do(context.Background(), http.MethodGet, "/files", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = c.Do(context.Background(), http.MethodPost, "/files", []byte("{}"))
	require.NoError(t, err)
	resp.Body.Close()
}

func TestAPIError_ErrorString(t *testing.T) {
	err := &APIError{StatusCode: 404, Message: "File not found: x.", Err: ErrNotFound}
	assert.Equal(t, "drive: HTTP 404: File not found: x.", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestErrorMessage_FallsBackToBody(t *testing.T) {
	assert.Equal(t, "plain text", errorMessage([]byte("plain text")))
	assert.Equal(t, "m", errorMessage([]byte(`{"error":{"message":"m"}}`)))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", "", nil, StaticToken("x"), nil, "")
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultUploadURL, c.uploadURL)
	assert.Equal(t, http.DefaultClient, c.httpClient)
	assert.Zero(t, c.maxRetries)
}

func TestSetMaxRetries_ClampsNegative(t *testing.T) {
	c := NewClient("", "", nil, StaticToken("x"), nil, "")
	c.SetMaxRetries(-2)
	assert.Zero(t, c.maxRetries)
}

func TestStaticToken_Empty(t *testing.T) {
	_, err := StaticToken("").Token()
	assert.Error(t, err)
}

func TestCalcBackoff_MaxCap(t *testing.T) {
	c := NewClient("", "", nil, StaticToken("x"), nil, "")

	for range 20 {
		d := c.calcBackoff(30)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestTimeSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, timeSleep(ctx, time.Hour), context.Canceled)
}
