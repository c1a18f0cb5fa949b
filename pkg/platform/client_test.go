package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCallsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sip/calls", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"sipCallId":"a","status":"connected"},{"id":"b","status":"ringing"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	calls, err := client.ListCalls(context.Background())
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].CorrelationID())
	assert.Equal(t, "b", calls[1].CorrelationID())
}

func TestListCallsEnvelopeWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[{"sipCallId":"a"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	calls, err := client.ListCalls(context.Background())
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "a", calls[0].SipCallID)
}

func TestPlaceCallValidatesBeforeNetwork(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.PlaceCall(context.Background(), PlaceCallRequest{
		CalledDID:      "not-a-number",
		CallerIDNumber: "+14155551234",
	})
	require.Error(t, err)
	assert.Zero(t, hits, "invalid numbers must never reach the wire")
}

func TestPlaceCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sip/call", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"success":true,"data":{"sipCallId":"sip-9","roomName":"room-x"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	res, err := client.PlaceCall(context.Background(), PlaceCallRequest{
		CalledDID:      "+14155551234",
		CallerIDNumber: "+14155550000",
	})
	require.NoError(t, err)
	assert.Equal(t, "sip-9", res.SipCallID)
	assert.Equal(t, "room-x", res.RoomName)
}

func TestActionFailureCarriesServerReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"call not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	err := client.EndCall(context.Background(), "sip-gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionFailed))
	assert.Contains(t, err.Error(), "call not found")
}

func TestNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.ListCalls(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
