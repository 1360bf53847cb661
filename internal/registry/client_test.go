package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/deployeval/internal/models"
	"github.com/spachava753/deployeval/internal/registry"
	"github.com/spachava753/deployeval/internal/registry/registrytest"
)

func TestClientLifecycle(t *testing.T) {
	srv := registrytest.NewServer("secret")
	defer srv.Close()

	ctx := context.Background()
	client := registry.NewClient(srv.BaseURL(), "secret")

	id, err := client.RegisterModel(ctx, "llama-ft", "/ckpt/a")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, client.Deploy(ctx, id))

	records, err := client.ListModels(ctx)
	require.NoError(t, err)
	rec := registry.FindByCheckpoint(records, "/ckpt/a")
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.True(t, rec.IsDeployed(), "deployment with ReadyAfter 0 should be ready on first listing")
	assert.NotEmpty(t, rec.Deploy.URL)
	assert.NotEmpty(t, rec.Deploy.Token)

	require.NoError(t, client.Drop(ctx, id))
	assert.Equal(t, models.StatusDropped, srv.Status("/ckpt/a"))

	assert.Equal(t, 1, srv.Calls(registrytest.OpRegister))
	assert.Equal(t, 1, srv.Calls(registrytest.OpDeploy))
	assert.Equal(t, 1, srv.Calls(registrytest.OpDrop))
}

func TestClientSendsHeaders(t *testing.T) {
	var got http.Header
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 17}`))
	}))
	defer server.Close()

	client := registry.NewClient(server.URL+"/", "tok", registry.WithUserAgent("test-agent"))
	id, err := client.RegisterModel(context.Background(), "name", "/ckpt")
	require.NoError(t, err)

	assert.Equal(t, models.ModelID("17"), id)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "test-agent", got.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, map[string]string{"name": "name", "checkpoint_path": "/ckpt"}, body)
}

func TestClientStatusErrors(t *testing.T) {
	srv := registrytest.NewServer("secret")
	defer srv.Close()
	ctx := context.Background()

	t.Run("unauthorized", func(t *testing.T) {
		client := registry.NewClient(srv.BaseURL(), "wrong")
		_, err := client.ListModels(ctx)
		var se *registry.StatusError
		require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
		assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
		assert.Equal(t, http.MethodGet, se.Method)
	})

	t.Run("deploy unknown model", func(t *testing.T) {
		client := registry.NewClient(srv.BaseURL(), "secret")
		err := client.Deploy(ctx, "missing")
		var se *registry.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
	})

	t.Run("injected drop failure", func(t *testing.T) {
		srv.Fail(registrytest.OpDrop, http.StatusInternalServerError)
		client := registry.NewClient(srv.BaseURL(), "secret")
		err := client.Drop(ctx, "anything")
		var se *registry.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
		assert.Contains(t, err.Error(), "dropping model anything")
	})
}

func TestClientEscapesModelID(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := registry.NewClient(server.URL+"/models", "tok", registry.WithHTTPClient(server.Client()))
	require.NoError(t, client.Deploy(context.Background(), "team/7 a"))
	require.NoError(t, client.Drop(context.Background(), "team/7 a"))

	assert.Equal(t, []string{
		"POST /models/team%2F7%20a/deploys",
		"DELETE /models/team%2F7%20a/deploys",
	}, paths)
}

func TestClientRegisterWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := registry.NewClient(server.URL, "tok").RegisterModel(context.Background(), "n", "/c")
	assert.ErrorContains(t, err, "no id")
}

func TestClientInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	_, err := registry.NewClient(server.URL, "tok").ListModels(context.Background())
	assert.ErrorContains(t, err, "parsing response JSON")
}

func TestFindByCheckpoint(t *testing.T) {
	records := []models.ModelRecord{
		{ID: "1", CheckpointPath: "/a"},
		{ID: "2", CheckpointPath: "/b"},
		{ID: "3", CheckpointPath: "/b"},
	}

	tests := []struct {
		name       string
		checkpoint string
		wantID     models.ModelID
		wantNil    bool
	}{
		{"exact match", "/a", "1", false},
		{"first of duplicates", "/b", "2", false},
		{"not found", "/c", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registry.FindByCheckpoint(records, tt.checkpoint)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
