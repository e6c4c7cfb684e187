package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybird/relaybird/internal/domain"
)

func TestNewWebhookAdapter_RequiresURL(t *testing.T) {
	_, err := NewWebhookAdapter(WebhookConfig{})
	assert.Error(t, err)
}

func TestWebhookAdapter_Send(t *testing.T) {
	var gotReq sendRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-123"})
	}))
	defer srv.Close()

	adapter, err := NewWebhookAdapter(WebhookConfig{URL: srv.URL, AuthToken: "secret"})
	require.NoError(t, err)

	id, err := adapter.Send(context.Background(), "dest-1", domain.RenderedContent{
		Text:      "hello",
		MediaRefs: []string{"ref-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "dest-1", gotReq.DestinationID)
	assert.Equal(t, "hello", gotReq.Text)
	assert.Equal(t, []string{"ref-1"}, gotReq.MediaRefs)
}

func TestWebhookAdapter_SendStatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"server error is transient", http.StatusInternalServerError, false},
		{"bad gateway is transient", http.StatusBadGateway, false},
		{"rate limited is transient", http.StatusTooManyRequests, false},
		{"request timeout is transient", http.StatusRequestTimeout, false},
		{"bad request is permanent", http.StatusBadRequest, true},
		{"not found is permanent", http.StatusNotFound, true},
		{"forbidden is permanent", http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			adapter, err := NewWebhookAdapter(WebhookConfig{URL: srv.URL})
			require.NoError(t, err)

			_, err = adapter.Send(context.Background(), "dest-1", domain.RenderedContent{Text: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestWebhookAdapter_SendMissingMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	adapter, err := NewWebhookAdapter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = adapter.Send(context.Background(), "dest-1", domain.RenderedContent{Text: "x"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "a malformed gateway response is worth retrying")
}

func TestWebhookAdapter_SendAcceptedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-9"})
	}))
	defer srv.Close()

	adapter, err := NewWebhookAdapter(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	id, err := adapter.Send(context.Background(), "dest-1", domain.RenderedContent{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "msg-9", id)
}

func TestWebhookAdapter_PushReceipt(t *testing.T) {
	adapter, err := NewWebhookAdapter(WebhookConfig{URL: "http://gateway.local/send"})
	require.NoError(t, err)

	adapter.PushReceipt(Receipt{TransportMessageID: "msg-1", Kind: ReceiptDelivered})

	select {
	case r := <-adapter.Receipts():
		assert.Equal(t, "msg-1", r.TransportMessageID)
		assert.Equal(t, ReceiptDelivered, r.Kind)
		assert.False(t, r.At.IsZero(), "missing receipt time defaults to now")
	case <-time.After(time.Second):
		t.Fatal("receipt was not delivered")
	}
}

func TestWebhookAdapter_CloseEndsStream(t *testing.T) {
	adapter, err := NewWebhookAdapter(WebhookConfig{URL: "http://gateway.local/send"})
	require.NoError(t, err)

	adapter.Close()

	_, ok := <-adapter.Receipts()
	assert.False(t, ok)
}

func TestPermanentError(t *testing.T) {
	base := assert.AnError

	wrapped := Permanent(base)
	assert.True(t, IsPermanent(wrapped))
	assert.Equal(t, base.Error(), wrapped.Error())

	assert.False(t, IsPermanent(base))
	assert.False(t, IsPermanent(nil))
}

func TestReceiptKind_IsValid(t *testing.T) {
	assert.True(t, ReceiptDelivered.IsValid())
	assert.True(t, ReceiptRead.IsValid())
	assert.True(t, ReceiptReply.IsValid())
	assert.False(t, ReceiptKind("bounced").IsValid())
}
