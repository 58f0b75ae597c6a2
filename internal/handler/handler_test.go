package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
	"github.com/kalnberzina/agrosync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements remote.RemoteClient with call tracking.
type mockClient struct {
	mu sync.Mutex

	created []createCall
	updated []updateCall
	uploads []uploadCall

	createErr error
	updateErr error
	uploadErr error
}

type createCall struct {
	entityType     string
	body           map[string]any
	idempotencyKey string
}

type updateCall struct {
	entityType string
	serverID   string
	patch      map[string]any
}

type uploadCall struct {
	entityType string
	serverID   string
	filename   string
}

func (m *mockClient) CreateEntity(_ context.Context, entityType string, body map[string]any, idempotencyKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, createCall{entityType, body, idempotencyKey})
	return "srv-" + idempotencyKey, nil
}

func (m *mockClient) UpdateEntity(_ context.Context, entityType, serverID string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = append(m.updated, updateCall{entityType, serverID, patch})
	return nil
}

func (m *mockClient) UploadAttachment(_ context.Context, entityType, serverID string, att *remote.AttachmentUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.uploads = append(m.uploads, uploadCall{entityType, serverID, att.Filename})
	return nil
}

func (m *mockClient) Ping(_ context.Context) error {
	return nil
}

type testEnv struct {
	store    *store.Store
	res      *resolver.Resolver
	client   *mockClient
	registry *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "agrosync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	res, err := resolver.New(st)
	require.NoError(t, err)

	client := &mockClient{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		store:    st,
		res:      res,
		client:   client,
		registry: NewRegistry(res, client, logger),
	}
}

func (e *testEnv) handle(t *testing.T, entityType string, op *models.PendingOperation) error {
	t.Helper()
	h, ok := e.registry.Lookup(entityType)
	require.True(t, ok)
	return h.Handle(context.Background(), op)
}

func createOp(entityType, entityID string, payload any) *models.PendingOperation {
	data, _ := json.Marshal(payload)
	return &models.PendingOperation{
		EntityType: entityType,
		EntityID:   entityID,
		Op:         models.OperationCreate,
		Payload:    data,
		UserID:     "u1",
	}
}

func updateOp(entityType, entityID string, payload any) *models.PendingOperation {
	data, _ := json.Marshal(payload)
	return &models.PendingOperation{
		EntityType: entityType,
		EntityID:   entityID,
		Op:         models.OperationUpdate,
		Payload:    data,
		UserID:     "u1",
	}
}

func TestActorCreateRegistersMapping(t *testing.T) {
	env := newTestEnv(t)

	op := createOp(models.EntityActor, "a1", models.ActorPayload{Name: "Baiba Ozola", Role: "farmer"})
	require.NoError(t, env.handle(t, models.EntityActor, op))

	require.Len(t, env.client.created, 1)
	call := env.client.created[0]
	assert.Equal(t, models.EntityActor, call.entityType)
	assert.Equal(t, "a1", call.idempotencyKey)
	assert.Equal(t, "Baiba Ozola", call.body["name"])

	serverID, ok := env.res.Lookup(models.EntityActor, "a1")
	require.True(t, ok)
	assert.Equal(t, "srv-a1", serverID)
}

func TestActorCreateReplaySkipsRemoteCall(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))

	op := createOp(models.EntityActor, "a1", models.ActorPayload{Name: "Baiba"})
	require.NoError(t, env.handle(t, models.EntityActor, op))

	assert.Empty(t, env.client.created, "replayed create must not hit the server again")
}

func TestActorCreateStripsAttachmentsFromBody(t *testing.T) {
	env := newTestEnv(t)

	op := createOp(models.EntityActor, "a1", models.ActorPayload{
		Name:        "Baiba",
		Attachments: []models.Attachment{{Filename: "id-card.png", MediaType: "image/png", Data: "aGk="}},
	})
	require.NoError(t, env.handle(t, models.EntityActor, op))

	require.Len(t, env.client.created, 1)
	assert.NotContains(t, env.client.created[0].body, "attachments")

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "id-card.png", env.client.uploads[0].filename)
	assert.Equal(t, "srv-a1", env.client.uploads[0].serverID)
}

func TestActorCreateAttachmentFailureNonFatal(t *testing.T) {
	env := newTestEnv(t)
	env.client.uploadErr = errors.New("disk full")

	op := createOp(models.EntityActor, "a1", models.ActorPayload{
		Name:        "Baiba",
		Attachments: []models.Attachment{{Filename: "id-card.png", Data: "aGk="}},
	})

	err := env.handle(t, models.EntityActor, op)
	assert.NoError(t, err, "attachment failure must not fail the primary entity")
	assert.Len(t, env.client.created, 1)

	// The create still registered the mapping.
	_, ok := env.res.Lookup(models.EntityActor, "a1")
	assert.True(t, ok)
}

func TestActorUpdateSparsePatch(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))

	op := updateOp(models.EntityActor, "a1", map[string]any{"phone": "+371 20000000"})
	require.NoError(t, env.handle(t, models.EntityActor, op))

	require.Len(t, env.client.updated, 1)
	call := env.client.updated[0]
	assert.Equal(t, "srv-a1", call.serverID)
	assert.Equal(t, map[string]any{"phone": "+371 20000000"}, call.patch,
		"only fields present in the payload may be sent")
}

func TestActorUpdateWithServerIDPassesThrough(t *testing.T) {
	env := newTestEnv(t)

	op := updateOp(models.EntityActor, "srv-remote", map[string]any{"region": "Zemgale"})
	require.NoError(t, env.handle(t, models.EntityActor, op))

	require.Len(t, env.client.updated, 1)
	assert.Equal(t, "srv-remote", env.client.updated[0].serverID)
}

func TestTransactionCreateResolvesReferences(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))

	op := createOp(models.EntityTransaction, "t1", models.TransactionPayload{
		Buyer:     models.LocalRef("a1"),
		Seller:    models.ServerRef("srv-seller"),
		Commodity: "maize",
	})
	require.NoError(t, env.handle(t, models.EntityTransaction, op))

	require.Len(t, env.client.created, 1)
	body := env.client.created[0].body
	assert.Equal(t, "srv-a1", body["buyer"], "local buyer reference must be resolved")
	assert.Equal(t, "srv-seller", body["seller"])
}

func TestTransactionCreateUnresolvedPropagates(t *testing.T) {
	env := newTestEnv(t)

	op := createOp(models.EntityTransaction, "t1", models.TransactionPayload{
		Buyer:     models.LocalRef("a1"),
		Seller:    models.ServerRef("srv-seller"),
		Commodity: "maize",
	})

	err := env.handle(t, models.EntityTransaction, op)
	require.Error(t, err)

	var unresolved *resolver.UnresolvedError
	require.True(t, errors.As(err, &unresolved), "got %v", err)
	assert.Equal(t, models.EntityActor, unresolved.EntityType)
	assert.Equal(t, "a1", unresolved.LocalID)
	assert.Empty(t, env.client.created, "nothing may be sent while a reference is unresolved")
}

func TestTransactionUpdateResolvesOnlyPresentFields(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityTransaction, "t1", "srv-t1"))

	op := updateOp(models.EntityTransaction, "t1", map[string]any{"quantity_kg": 1500.0})
	require.NoError(t, env.handle(t, models.EntityTransaction, op))

	require.Len(t, env.client.updated, 1)
	patch := env.client.updated[0].patch
	assert.Contains(t, patch, "quantity_kg")
	assert.NotContains(t, patch, "buyer")
	assert.NotContains(t, patch, "seller")
}

func TestDocumentCreateUploadsFileSeparately(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))

	op := createOp(models.EntityDocument, "d1", models.DocumentPayload{
		Owner:      models.LocalRef("a1"),
		OwnerType:  models.EntityActor,
		Title:      "Quality certificate",
		Kind:       "certificate",
		Attachment: models.Attachment{Filename: "cert.pdf", MediaType: "application/pdf", Data: "aGk="},
	})
	require.NoError(t, env.handle(t, models.EntityDocument, op))

	require.Len(t, env.client.created, 1)
	body := env.client.created[0].body
	assert.Equal(t, "srv-a1", body["owner"])
	assert.NotContains(t, body, "attachment")

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "cert.pdf", env.client.uploads[0].filename)
	assert.Equal(t, "srv-d1", env.client.uploads[0].serverID)
}

func TestDocumentUpdateResolvesOwnerWithoutOwnerType(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))
	require.NoError(t, env.res.Register(models.EntityDocument, "d1", "srv-d1"))

	// owner_type absent from the sparse patch: the owner reference still
	// defaults to an actor, exactly as on create.
	op := updateOp(models.EntityDocument, "d1", map[string]any{
		"owner": models.LocalRef("a1"),
		"title": "Amended contract",
	})
	require.NoError(t, env.handle(t, models.EntityDocument, op))

	require.Len(t, env.client.updated, 1)
	call := env.client.updated[0]
	assert.Equal(t, "srv-d1", call.serverID)
	assert.Equal(t, "srv-a1", call.patch["owner"],
		"a local owner reference must never reach the server")
}

func TestDocumentUpdateUnresolvedOwnerPropagates(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityDocument, "d1", "srv-d1"))

	op := updateOp(models.EntityDocument, "d1", map[string]any{
		"owner": models.LocalRef("ghost"),
	})
	err := env.handle(t, models.EntityDocument, op)

	var unresolved *resolver.UnresolvedError
	require.True(t, errors.As(err, &unresolved), "got %v", err)
	assert.Equal(t, models.EntityActor, unresolved.EntityType)
	assert.Empty(t, env.client.updated, "nothing may be sent while the owner is unresolved")
}

func TestActorUpdateUploadsAttachments(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))

	op := updateOp(models.EntityActor, "a1", map[string]any{
		"phone":       "+371 20000000",
		"attachments": []models.Attachment{{Filename: "id-card.png", MediaType: "image/png", Data: "aGk="}},
	})
	require.NoError(t, env.handle(t, models.EntityActor, op))

	require.Len(t, env.client.updated, 1)
	assert.NotContains(t, env.client.updated[0].patch, "attachments")

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "id-card.png", env.client.uploads[0].filename)
	assert.Equal(t, "srv-a1", env.client.uploads[0].serverID)
}

func TestActorUpdateFailureSkipsAttachmentUpload(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityActor, "a1", "srv-a1"))
	env.client.updateErr = &remote.RemoteError{Status: 500, Code: "internal_error", Message: "boom"}

	op := updateOp(models.EntityActor, "a1", map[string]any{
		"phone":       "+371 20000000",
		"attachments": []models.Attachment{{Filename: "id-card.png", Data: "aGk="}},
	})
	require.Error(t, env.handle(t, models.EntityActor, op))

	assert.Empty(t, env.client.uploads, "attachments follow a confirmed update, never a failed one")
}

func TestTransactionUpdateUploadsAttachments(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityTransaction, "t1", "srv-t1"))

	op := updateOp(models.EntityTransaction, "t1", map[string]any{
		"quantity_kg": 1500.0,
		"attachments": []models.Attachment{{Filename: "weighbridge.pdf", MediaType: "application/pdf", Data: "aGk="}},
	})
	require.NoError(t, env.handle(t, models.EntityTransaction, op))

	require.Len(t, env.client.updated, 1)
	assert.NotContains(t, env.client.updated[0].patch, "attachments")

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "weighbridge.pdf", env.client.uploads[0].filename)
	assert.Equal(t, "srv-t1", env.client.uploads[0].serverID)
}

func TestDocumentUpdateUploadsReplacementFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.res.Register(models.EntityDocument, "d1", "srv-d1"))

	op := updateOp(models.EntityDocument, "d1", map[string]any{
		"title":      "Amended contract",
		"attachment": models.Attachment{Filename: "contract-v2.pdf", MediaType: "application/pdf", Data: "aGk="},
	})
	require.NoError(t, env.handle(t, models.EntityDocument, op))

	require.Len(t, env.client.updated, 1)
	assert.NotContains(t, env.client.updated[0].patch, "attachment")

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "contract-v2.pdf", env.client.uploads[0].filename)
	assert.Equal(t, "srv-d1", env.client.uploads[0].serverID)
}

func TestUnknownOperationRejected(t *testing.T) {
	env := newTestEnv(t)

	op := &models.PendingOperation{
		EntityType: models.EntityActor,
		EntityID:   "a1",
		Op:         models.OperationType("delete"),
		Payload:    []byte(`{}`),
	}
	err := env.handle(t, models.EntityActor, op)
	assert.Error(t, err)
}

func TestCreateErrorPropagatesUnclassified(t *testing.T) {
	env := newTestEnv(t)
	env.client.createErr = &remote.RemoteError{Status: 500, Code: "internal_error", Message: "boom"}

	op := createOp(models.EntityActor, "a1", models.ActorPayload{Name: "Baiba"})
	err := env.handle(t, models.EntityActor, op)

	var re *remote.RemoteError
	require.True(t, errors.As(err, &re), "handlers classify but never swallow: got %v", err)
	assert.Equal(t, 500, re.Status)
}

func TestRegistryLookup(t *testing.T) {
	env := newTestEnv(t)

	_, ok := env.registry.Lookup(models.EntityActor)
	assert.True(t, ok)
	_, ok = env.registry.Lookup("calendar")
	assert.False(t, ok)
}
