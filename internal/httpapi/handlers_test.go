package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"voice-gateway/internal/audit"
	"voice-gateway/internal/auth"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/clients"
	"voice-gateway/internal/config"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/registration"
	"voice-gateway/internal/reporting"
	"voice-gateway/pkg/utils"
)

// storeRegistrar stands in for the registration manager: every register
// succeeds immediately.
type storeRegistrar struct {
	store *ledger.Store
}

func (r storeRegistrar) AddClient(ctx context.Context, c clients.Client) (clients.Client, error) {
	created, err := r.store.CreateClient(ctx, c)
	if err != nil {
		return clients.Client{}, err
	}
	if err := r.Register(ctx, created); err != nil {
		return created, err
	}
	return r.store.GetClient(ctx, created.ID)
}

func (r storeRegistrar) UpdateClient(ctx context.Context, c clients.Client) (clients.Client, error) {
	return r.store.UpdateClient(ctx, c)
}

func (r storeRegistrar) RemoveClient(ctx context.Context, id string) error {
	return r.store.DeleteClient(ctx, id)
}

func (r storeRegistrar) Register(ctx context.Context, c clients.Client) error {
	return r.store.SetClientStatus(ctx, c.ID, clients.StatusActive, "Registration successful")
}

func (r storeRegistrar) Unregister(ctx context.Context, id string) error {
	return r.store.SetClientStatus(ctx, id, clients.StatusUnregistered, "Registration stopped by operator")
}

func (r storeRegistrar) Status(ctx context.Context) ([]registration.Entry, error) {
	list, err := r.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registration.Entry, 0, len(list))
	for _, c := range list {
		out = append(out, registration.Entry{Client: c.Redacted(), Registered: c.Status == clients.StatusActive, State: "registered"})
	}
	return out, nil
}

type testEnv struct {
	router *gin.Engine
	store  *ledger.Store
	tokens *auth.Manager
	audit  *audit.MemoryRepo
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := utils.OpenDB(ctx, utils.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), utils.DBPoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := ledger.NewStore(db, ledger.DialectSQLite)
	require.NoError(t, store.Migrate(ctx))

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, store.EnsureAdmin(ctx, hash))

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour})
	require.NoError(t, err)

	repo := audit.NewMemoryRepo()
	h := Handlers{
		Auth:          auth.NewService(store, tokens),
		Clients:       store,
		Registrations: storeRegistrar{store: store},
		Calls:         store,
		Reporting:     reporting.NewService(store),
		Audit:         audit.NewService(repo),
	}
	r := gin.New()
	h.Mount(r, auth.RequireAccessToken(tokens))
	return &testEnv{router: r, store: store, tokens: tokens, audit: repo}
}

func (e *testEnv) token(t *testing.T, role string) string {
	t.Helper()
	pair, err := e.tokens.IssuePair(time.Now(), "user-"+role, role)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func newClientBody() map[string]any {
	return map[string]any{
		"name": "Acme",
		"sip":  map[string]any{"sip_server": "pbx.example.com", "sip_domain": "example.com", "sip_username": "1001", "sip_password": "hunter2"},
		"ai":   map[string]any{"voice_id": "v1", "max_turns": 6},
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]any](t, w)
	assert.NotEmpty(t, got["token"])
	assert.NotEmpty(t, got["refresh_token"])

	w = e.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refresh_token": got["refresh_token"]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	refreshed := decode[tokenResponse](t, w)
	assert.NotEmpty(t, refreshed.Token)

	w = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ghost", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refresh_token": got["token"]})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "access token is not a refresh token")
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/clients", "/api/calls", "/api/registrations", "/api/analytics/overview"} {
		w := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestMutationsRequireAdmin(t *testing.T) {
	e := newEnv(t)
	op := e.token(t, "operator")

	w := e.do(t, http.MethodGet, "/api/clients", op, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/clients", op, newClientBody())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/registrations/x/unregister", op, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "/api/errors", op, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestClientCRUD(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "admin")

	w := e.do(t, http.MethodPost, "/api/clients", admin, newClientBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[clients.Client](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, clients.StatusActive, created.Status)
	assert.Empty(t, created.SIP.Password, "password never leaves the API")

	w = e.do(t, http.MethodGet, "/api/clients/"+created.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")

	body := newClientBody()
	body["name"] = "Acme Renamed"
	body["sip"].(map[string]any)["sip_password"] = ""
	w = e.do(t, http.MethodPut, "/api/clients/"+created.ID, admin, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Acme Renamed", decode[clients.Client](t, w).Name)

	stored, err := e.store.GetClient(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", stored.SIP.Password, "empty password keeps the stored one")

	w = e.do(t, http.MethodDelete, "/api/clients/"+created.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/clients/"+created.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	events := e.audit.Events()
	require.Len(t, events, 3)
	assert.Equal(t, audit.EventClientCreated, events[0].Type)
	assert.Equal(t, audit.EventClientUpdated, events[1].Type)
	assert.Equal(t, audit.EventClientRemoved, events[2].Type)
	assert.Equal(t, "user-admin", events[0].ActorUserID)
}

func TestCreateClientValidation(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "admin")

	body := newClientBody()
	body["name"] = ""
	w := e.do(t, http.MethodPost, "/api/clients", admin, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = newClientBody()
	body["ai"] = map[string]any{"max_turns": 1}
	w = e.do(t, http.MethodPost, "/api/clients", admin, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/api/clients/missing", admin, newClientBody())
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, e.audit.Events())
}

func TestRegistrationRoutes(t *testing.T) {
	e := newEnv(t)
	admin := e.token(t, "admin")

	w := e.do(t, http.MethodPost, "/api/clients", admin, newClientBody())
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[clients.Client](t, w).ID

	w = e.do(t, http.MethodPost, "/api/registrations/"+id+"/unregister", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, clients.StatusUnregistered, decode[clients.Client](t, w).Status)

	w = e.do(t, http.MethodPost, "/api/registrations/"+id+"/register", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, clients.StatusActive, decode[clients.Client](t, w).Status)

	w = e.do(t, http.MethodPost, "/api/registrations/missing/register", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	trail := e.audit.ForClient(id)
	require.Len(t, trail, 3)
	assert.Equal(t, audit.EventRegistrationStopped, trail[1].Type)
	assert.Equal(t, audit.EventRegistrationStarted, trail[2].Type)

	w = e.do(t, http.MethodGet, "/api/registrations", e.token(t, "operator"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]registration.Entry](t, w)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Registered)
	assert.Empty(t, rows[0].Client.SIP.Password)
}

func TestCallRoutesAndAnalytics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	op := e.token(t, "operator")

	start := time.Now().UTC().Truncate(time.Second).Add(-time.Minute)
	call, err := e.store.CreateCall(ctx, calls.Call{ClientID: "c1", SIPCallID: "abc@pbx", CallerNumber: "+1555", StartTime: start})
	require.NoError(t, err)
	require.NoError(t, e.store.AppendInteraction(ctx, calls.Interaction{CallID: call.ID, Seq: 1, Speaker: calls.SpeakerUser, Content: "hello", Timestamp: start}))
	require.NoError(t, e.store.FinalizeCall(ctx, call.ID, start.Add(30*time.Second), 30, calls.CallStatusCompleted))

	w := e.do(t, http.MethodGet, "/api/calls", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]calls.Call](t, w), 1)

	w = e.do(t, http.MethodGet, "/api/calls/"+call.ID, op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calls.CallStatusCompleted, decode[calls.Call](t, w).Status)

	w = e.do(t, http.MethodGet, "/api/calls/"+call.ID+"/transcript", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	transcript := decode[struct {
		Interactions []calls.Interaction `json:"interactions"`
	}](t, w)
	require.Len(t, transcript.Interactions, 1)
	assert.Equal(t, "hello", transcript.Interactions[0].Content)

	w = e.do(t, http.MethodGet, "/api/calls/missing/transcript", op, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/analytics/overview", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ov := decode[reporting.Overview](t, w)
	assert.Equal(t, 1, ov.TotalCalls)
	assert.Equal(t, 1, ov.CompletedCalls)
	assert.InDelta(t, 30.0, ov.AverageDurationSeconds, 0.001)

	w = e.do(t, http.MethodGet, "/api/analytics/call-volume", op, nil)
	require.Equal(t, http.StatusOK, w.Code)
	vol := decode[[]reporting.DayVolume](t, w)
	require.Len(t, vol, 1)
	assert.Equal(t, 1, vol[0].CallCount)
}

func TestErrorLogsForAdmin(t *testing.T) {
	e := newEnv(t)
	err := e.store.AppendErrorLog(context.Background(), calls.ErrorLog{
		ErrorType: calls.ErrorTypeCallProcessing,
		Details:   map[string]any{"client_id": "c1", "error": "boom"},
	})
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/errors", e.token(t, "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]calls.ErrorLog](t, w)
	require.Len(t, logs, 1)
	assert.Equal(t, "boom", logs[0].Details["error"])
}
