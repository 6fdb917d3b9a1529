package guest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPersisterStore(t *testing.T) {
	var gotMethod, gotType string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p, err := NewHTTPPersister(ts.URL)
	require.NoError(t, err)

	var u Update
	require.NoError(t, json.Unmarshal([]byte(`{"idGuest":"g7","name":"Ana"}`), &u))
	require.NoError(t, p.Store(context.Background(), u))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "g7", gotBody["idGuest"])
	assert.Equal(t, "Ana", gotBody["name"])
}

func TestHTTPPersisterNonOKStatus(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusBadRequest, http.StatusInternalServerError} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("nope"))
		}))

		p, err := NewHTTPPersister(ts.URL)
		require.NoError(t, err)

		err = p.Store(context.Background(), Update{ID: "g1"})
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr), "status %d: expected StatusError, got %v", code, err)
		assert.Equal(t, code, statusErr.StatusCode)
		assert.Equal(t, "nope", statusErr.Body)
		ts.Close()
	}
}

func TestHTTPPersisterTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	p, err := NewHTTPPersister(url)
	require.NoError(t, err)
	assert.Error(t, p.Store(context.Background(), Update{ID: "g1"}))
}

func TestHTTPPersisterTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	p, err := NewHTTPPersister(ts.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	err = p.Store(context.Background(), Update{ID: "g1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewHTTPPersisterRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPPersister("")
	assert.ErrorIs(t, err, ErrNoEndpoint)
}
