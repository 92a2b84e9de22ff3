package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/smarterp/smarterp/internal/shared"
)

func TestClientRecordEnqueuesOnAuditQueue(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	err = client.Record(context.Background(), shared.AuditLog{
		ActorID:  1,
		Action:   shared.AuditRoleDeleted,
		Entity:   "role",
		EntityID: "4",
	})
	require.NoError(t, err)

	pending, err := srv.List("asynq:{" + QueueAudit + "}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestClientRecordRejectsIncompleteEntry(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.Error(t, client.Record(context.Background(), shared.AuditLog{Action: "x"}))
	require.False(t, srv.Exists("asynq:{"+QueueAudit+"}:pending"))
}

func TestNilClientRecord(t *testing.T) {
	var client *Client
	require.Error(t, client.Record(context.Background(), shared.AuditLog{}))
}

func TestNewWorkerRejectsIncompleteHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskAccessAudit}},
	})
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, []queueHealth{{Queue: QueueAudit}, {Queue: QueueDefault}}, report)
}
