// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSenderDelivers(t *testing.T) {
	var got outboundMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), 42, "hello"))
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, "hello", got.Text)
}

func TestHTTPSenderReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL)
	assert.Error(t, s.Send(context.Background(), 42, "hello"))
}

func TestHTTPSenderUnreachableGateway(t *testing.T) {
	s := NewHTTPSender("http://127.0.0.1:1/outbound")
	assert.Error(t, s.Send(context.Background(), 42, "hello"))
}

func TestRecorderFailFor(t *testing.T) {
	rec := NewRecorder()
	require.NoError(t, rec.Send(context.Background(), 1, "a"))

	rec.FailFor(1, assert.AnError)
	assert.Error(t, rec.Send(context.Background(), 1, "b"))

	rec.FailFor(1, nil)
	require.NoError(t, rec.Send(context.Background(), 1, "c"))
	assert.Len(t, rec.SentTo(1), 2)
}
