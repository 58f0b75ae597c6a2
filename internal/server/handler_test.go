package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/server/blobstore"
	"github.com/kalnberzina/agrosync/internal/server/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

type serverEnv struct {
	srv    *httptest.Server
	meta   *metastore.Store
	blobs  *blobstore.FSStore
	client *remote.HTTPClient
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	dir := t.TempDir()

	meta, err := metastore.New(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.NewFSStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.Token = testToken

	srv := httptest.NewServer(Handler(meta, blobs, cfg, logger))
	t.Cleanup(srv.Close)

	return &serverEnv{
		srv:    srv,
		meta:   meta,
		blobs:  blobs,
		client: remote.NewHTTPClient(srv.URL, testToken),
	}
}

func TestCreateAndGetRoundtrip(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()

	id, err := e.client.CreateEntity(ctx, "actor", map[string]any{
		"name": "Baiba", "role": "farmer",
	}, "local-a1")
	require.NoError(t, err)
	assert.Regexp(t, `^srv-`, id)

	fields, err := e.meta.GetEntity("actor", id)
	require.NoError(t, err)
	assert.Equal(t, "Baiba", fields["name"])
	assert.Equal(t, id, fields["id"])
	assert.NotEmpty(t, fields["created_at"])
}

func TestIdempotentCreateReplaysSameID(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()
	body := map[string]any{"name": "Baiba", "role": "farmer"}

	first, err := e.client.CreateEntity(ctx, "actor", body, "local-a1")
	require.NoError(t, err)

	second, err := e.client.CreateEntity(ctx, "actor", body, "local-a1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The raw replay response carries 200 and the replayed flag, where a
	// fresh create returns 201.
	resp := e.rawPost(t, "/api/v1/actor", body, "local-a1")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var cr remote.CreateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cr))
	assert.True(t, cr.Replayed)
	assert.Equal(t, first, cr.ID)
}

func TestDistinctIdempotencyKeysCreateDistinctEntities(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()
	body := map[string]any{"name": "Baiba", "role": "farmer"}

	first, err := e.client.CreateEntity(ctx, "actor", body, "local-a1")
	require.NoError(t, err)
	second, err := e.client.CreateEntity(ctx, "actor", body, "local-a2")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSparsePatchMergesFields(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()

	id, err := e.client.CreateEntity(ctx, "actor", map[string]any{
		"name": "Baiba", "role": "farmer", "region": "Vidzeme",
	}, "local-a1")
	require.NoError(t, err)

	require.NoError(t, e.client.UpdateEntity(ctx, "actor", id, map[string]any{
		"region": "Latgale",
	}))

	fields, err := e.meta.GetEntity("actor", id)
	require.NoError(t, err)
	assert.Equal(t, "Baiba", fields["name"], "fields absent from the patch are untouched")
	assert.Equal(t, "Latgale", fields["region"])
	assert.NotEmpty(t, fields["updated_at"])
}

func TestPatchCannotOverwriteServerOwnedFields(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()

	id, err := e.client.CreateEntity(ctx, "actor", map[string]any{"name": "Baiba"}, "local-a1")
	require.NoError(t, err)

	require.NoError(t, e.client.UpdateEntity(ctx, "actor", id, map[string]any{
		"id": "srv-forged", "name": "Janis",
	}))

	fields, err := e.meta.GetEntity("actor", id)
	require.NoError(t, err)
	assert.Equal(t, id, fields["id"])
	assert.Equal(t, "Janis", fields["name"])
}

func TestUpdateMissingEntityIs404(t *testing.T) {
	e := newServerEnv(t)

	err := e.client.UpdateEntity(context.Background(), "actor", "srv-missing", map[string]any{"name": "X"})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Equal(t, "not_found", re.Code)
}

func TestCreateValidationRejected(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()

	cases := []struct {
		entityType string
		body       map[string]any
	}{
		{"actor", map[string]any{"role": "farmer"}},
		{"transaction", map[string]any{"buyer": "srv-1", "commodity": "maize"}},
		{"transaction", map[string]any{"buyer": "srv-1", "seller": "srv-2"}},
		{"document", map[string]any{"kind": "contract"}},
	}
	for _, tc := range cases {
		_, err := e.client.CreateEntity(ctx, tc.entityType, tc.body, "")
		var re *remote.RemoteError
		require.ErrorAs(t, err, &re, "entity type %s body %v", tc.entityType, tc.body)
		assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
		assert.Equal(t, "validation_failed", re.Code)
	}
}

func TestUnknownEntityTypeIs404(t *testing.T) {
	e := newServerEnv(t)

	_, err := e.client.CreateEntity(context.Background(), "calendar", map[string]any{"name": "x"}, "")
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Equal(t, "unknown_entity_type", re.Code)
}

func TestBadTokenIs401(t *testing.T) {
	e := newServerEnv(t)
	badClient := remote.NewHTTPClient(e.srv.URL, "wrong-token")

	_, err := badClient.CreateEntity(context.Background(), "actor", map[string]any{"name": "Baiba"}, "")
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
	assert.Equal(t, "unauthorized", re.Code)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	e := newServerEnv(t)

	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, e.client.Ping(context.Background()))
}

func TestAttachmentUploadStoresBlobAndRef(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()

	id, err := e.client.CreateEntity(ctx, "document", map[string]any{
		"title": "Grain contract",
	}, "local-d1")
	require.NoError(t, err)

	content := []byte("scanned contract bytes")
	err = e.client.UploadAttachment(ctx, "document", id, &remote.AttachmentUpload{
		Filename:  "contract.pdf",
		MediaType: "application/pdf",
		Data:      base64.StdEncoding.EncodeToString(content),
	})
	require.NoError(t, err)

	fields, err := e.meta.GetEntity("document", id)
	require.NoError(t, err)
	refs, ok := fields["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, refs, 1)

	ref := refs[0].(map[string]any)
	assert.Equal(t, "contract.pdf", ref["filename"])

	hash, _ := ref["hash"].(string)
	require.NotEmpty(t, hash)
	stored, err := e.blobs.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestAttachmentForMissingEntityIs404(t *testing.T) {
	e := newServerEnv(t)

	err := e.client.UploadAttachment(context.Background(), "document", "srv-missing", &remote.AttachmentUpload{
		Filename: "contract.pdf",
		Data:     base64.StdEncoding.EncodeToString([]byte("x")),
	})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
}

func TestAttachmentRejectsInvalidBase64(t *testing.T) {
	e := newServerEnv(t)
	ctx := context.Background()

	id, err := e.client.CreateEntity(ctx, "document", map[string]any{"title": "Doc"}, "local-d1")
	require.NoError(t, err)

	err = e.client.UploadAttachment(ctx, "document", id, &remote.AttachmentUpload{
		Filename: "contract.pdf",
		Data:     "not base64!!!",
	})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
}

func TestMalformedJSONIs400(t *testing.T) {
	e := newServerEnv(t)

	req, err := http.NewRequest("POST", e.srv.URL+"/api/v1/actor", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestIDEchoedBack(t *testing.T) {
	e := newServerEnv(t)

	req, err := http.NewRequest("GET", e.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestGetMissingEntityIs404(t *testing.T) {
	e := newServerEnv(t)

	_, err := e.meta.GetEntity("actor", "srv-missing")
	assert.True(t, errors.Is(err, metastore.ErrNotFound))
}

func (e *serverEnv) rawPost(t *testing.T, path string, body map[string]any, idempotencyKey string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest("POST", e.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}
