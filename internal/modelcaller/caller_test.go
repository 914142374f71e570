package modelcaller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorai/agorai/internal/bridgeerr"
)

func TestCallModelBuildsExpectedRequest(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotBody chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello there"}},
			},
		})
	}))
	defer srv.Close()

	result, err := CallModel(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{
		Endpoint: srv.URL,
		Model:    "test-model",
		APIKey:   "sk-x",
	})
	require.NoError(t, err)
	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, "Bearer sk-x", gotAuth)
	require.False(t, gotBody.Stream)
	require.Equal(t, "test-model", gotBody.Model)
	require.Equal(t, "hello there", result.Content)
}

func TestCallModelOmitsAuthorizationWhenNoAPIKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	_, err := CallModel(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{Endpoint: srv.URL, Model: "m"})
	require.NoError(t, err)
	require.Empty(t, gotAuth)
}

func TestCallModelEmptyChoicesIsEmptyResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{}})
	}))
	defer srv.Close()

	_, err := CallModel(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{Endpoint: srv.URL, Model: "m"})
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindEmptyResponse, kind)
}

func TestCallModelNon2xxIsModelAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	_, err := CallModel(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{Endpoint: srv.URL, Model: "m"})
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindModelAPI, kind)
	require.Contains(t, err.Error(), "500")
}

func TestCallModelMalformedJSONIsMalformedResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := CallModel(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{Endpoint: srv.URL, Model: "m"})
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindMalformedResponse, kind)
}

func TestCallModelUnreachableEndpointIsBridgeUnreachable(t *testing.T) {
	_, err := CallModel(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{Endpoint: "http://127.0.0.1:1", Model: "m", TimeoutMs: 500})
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindBridgeUnreachable, kind)
}
