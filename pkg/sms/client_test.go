package sms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/sms"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*sms.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := sms.NewClient(sms.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		From:    "Clover",
		Timeout: 2 * time.Second,
	}, getTestLogger())

	return client, server
}

func TestClientSend(t *testing.T) {
	var captured struct {
		method string
		path   string
		auth   string
		body   map[string]string
	}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id": "msg-123"}`))
	})

	result, err := client.Send(context.Background(), sms.Message{
		To:   "+4512345678",
		Text: "Your parcel is ready",
	})

	require.NoError(t, err)
	assert.Equal(t, "msg-123", result.ProviderMessageID)
	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/messages", captured.path)
	assert.Equal(t, "Bearer test-key", captured.auth)
	assert.Equal(t, "+4512345678", captured.body["to"])
	assert.Equal(t, "Your parcel is ready", captured.body["text"])
	assert.Equal(t, "Clover", captured.body["from"])
}

func TestClientSendFailureClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		transient  bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryAfter: "2", transient: true},
		{name: "service unavailable", status: http.StatusServiceUnavailable, transient: true},
		{name: "bad request", status: http.StatusBadRequest, transient: false},
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
		{name: "internal error", status: http.StatusInternalServerError, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			})

			result, err := client.Send(context.Background(), sms.Message{To: "+4512345678", Text: "hello"})
			require.Error(t, err)
			assert.Nil(t, result)

			var sendErr *sms.SendError
			require.True(t, errors.As(err, &sendErr))
			assert.Equal(t, tt.status, sendErr.HTTPStatus)
			assert.Equal(t, tt.transient, sendErr.Transient)
			assert.Equal(t, tt.transient, sms.IsTransient(err))
			assert.Equal(t, tt.retryAfter, sms.RetryAfter(err))
		})
	}
}

func TestClientSendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := sms.NewClient(sms.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 50 * time.Millisecond,
	}, getTestLogger())

	result, err := client.Send(context.Background(), sms.Message{To: "+4512345678", Text: "hello"})
	require.Error(t, err)
	assert.Nil(t, result)

	var sendErr *sms.SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, sendErr.Transient)
	assert.Zero(t, sendErr.HTTPStatus)
	assert.Error(t, sendErr.Unwrap())
}

func TestNewSenderTestMode(t *testing.T) {
	sender, err := sms.New(sms.Config{TestMode: true}, getTestLogger())
	require.NoError(t, err)

	result, err := sender.Send(context.Background(), sms.Message{To: "+4512345678", Text: "hello"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ProviderMessageID, "test-"))
}

func TestNewSenderMissingCredentials(t *testing.T) {
	_, err := sms.New(sms.Config{BaseURL: "https://gateway.example.com"}, getTestLogger())
	require.Error(t, err)

	_, err = sms.New(sms.Config{APIKey: "key"}, getTestLogger())
	require.Error(t, err)
}
