package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"race-sync-service/internal/config"
	"race-sync-service/internal/database"
	"race-sync-service/internal/racing"
	"race-sync-service/internal/store"
	"race-sync-service/internal/sync"
)

type fakeManager struct {
	status   string
	startErr error
	stopped  bool
}

func (m *fakeManager) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.status = sync.StatusRunning
	return nil
}

func (m *fakeManager) Stop()             { m.stopped = true; m.status = sync.StatusIdle }
func (m *fakeManager) GetStatus() string { return m.status }

type fakeRepo struct {
	tracks  []string
	saved   []database.Record
	saveErr error
}

func (f *fakeRepo) ListRaces(ctx context.Context, tracks []string) ([]map[string]any, error) {
	f.tracks = tracks
	return []map[string]any{{"race_id": "US_AQU_2024-05-01_3"}}, nil
}

func (f *fakeRepo) ListHorses(ctx context.Context, tracks []string) ([]racing.Horse, error) {
	f.tracks = tracks
	return []racing.Horse{{HorseID: "h1", Sex: "mare"}}, nil
}

func (f *fakeRepo) SaveHorses(ctx context.Context, records []database.Record) (*database.UpsertResult, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = records
	return &database.UpsertResult{Table: config.HorsesTable, Rows: len(records), Batches: 1}, nil
}

func (f *fakeRepo) SexBreakdown(ctx context.Context) ([]racing.SexCount, error) {
	return []racing.SexCount{{Sex: "mare", Count: 2}}, nil
}

type fakeSchema struct{}

func (fakeSchema) Columns(ctx context.Context, table string) ([]string, error) {
	if table != "tvg.races" {
		return nil, &database.SchemaLookupError{Table: table}
	}
	return []string{"race_id", "track_id"}, nil
}

type fakeHistory struct {
	store.Store
	limit, offset int
}

func (f *fakeHistory) GetSyncHistory(ctx context.Context, limit, offset int) ([]*store.SyncHistory, error) {
	f.limit, f.offset = limit, offset
	return []*store.SyncHistory{{ID: "run-1", Status: store.StatusCompleted}}, nil
}

type testEnv struct {
	manager *fakeManager
	repo    *fakeRepo
	history *fakeHistory
	router  http.Handler
}

func newEnv(cfg config.ServerConfig) *testEnv {
	env := &testEnv{
		manager: &fakeManager{status: sync.StatusIdle},
		repo:    &fakeRepo{},
		history: &fakeHistory{},
	}
	h := NewHandler(cfg, env.manager, env.history, env.repo, fakeSchema{}, nil)
	env.router = h.Routes()
	return env
}

func (e *testEnv) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newEnv(config.ServerConfig{})
	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSyncEndpoints(t *testing.T) {
	env := newEnv(config.ServerConfig{})

	rec := env.do(http.MethodPost, "/api/v1/sync/trigger", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/sync/status", "")
	if got := decode[map[string]string](t, rec); got["status"] != sync.StatusRunning {
		t.Errorf("status = %v", got)
	}

	env.manager.startErr = sync.ErrAlreadyRunning
	rec = env.do(http.MethodPost, "/api/v1/sync/trigger", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second trigger = %d, want 409", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/v1/sync/stop", "")
	if rec.Code != http.StatusOK || !env.manager.stopped {
		t.Errorf("stop = %d, stopped = %v", rec.Code, env.manager.stopped)
	}
}

func TestSyncHistoryPaging(t *testing.T) {
	env := newEnv(config.ServerConfig{})

	rec := env.do(http.MethodGet, "/api/v1/sync/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	if env.history.limit != defaultHistoryLimit || env.history.offset != 0 {
		t.Errorf("limit/offset = %d/%d", env.history.limit, env.history.offset)
	}
	if got := decode[[]store.SyncHistory](t, rec); len(got) != 1 || got[0].ID != "run-1" {
		t.Errorf("history = %+v", got)
	}

	env.do(http.MethodGet, "/api/v1/sync/history?limit=5000&offset=10", "")
	if env.history.limit != maxHistoryLimit || env.history.offset != 10 {
		t.Errorf("limit/offset = %d/%d", env.history.limit, env.history.offset)
	}

	rec = env.do(http.MethodGet, "/api/v1/sync/history?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rec.Code)
	}
}

func TestListRacesTrackFilter(t *testing.T) {
	env := newEnv(config.ServerConfig{})

	rec := env.do(http.MethodGet, "/api/v1/races?track=US_AQU,US_BEL&track=GB_ASC", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("races = %d", rec.Code)
	}
	if want := []string{"US_AQU", "US_BEL", "GB_ASC"}; !slices.Equal(env.repo.tracks, want) {
		t.Errorf("tracks = %v, want %v", env.repo.tracks, want)
	}

	env.do(http.MethodGet, "/api/v1/races", "")
	if env.repo.tracks != nil {
		t.Errorf("tracks = %v, want none", env.repo.tracks)
	}
}

func TestSaveHorses(t *testing.T) {
	env := newEnv(config.ServerConfig{})

	body := `[{"horse_id":"h1","horse_name":"Ruffian","sex":"filly","wins":12}]`
	rec := env.do(http.MethodPut, "/api/v1/horses", body, "Content-Type", "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("save = %d %s", rec.Code, rec.Body.String())
	}
	if len(env.repo.saved) != 1 || env.repo.saved[0]["wins"] != json.Number("12") {
		t.Errorf("saved = %#v", env.repo.saved)
	}

	got := decode[struct {
		Result       database.UpsertResult `json:"result"`
		SexBreakdown []racing.SexCount     `json:"sex_breakdown"`
	}](t, rec)
	if got.Result.Rows != 1 || len(got.SexBreakdown) != 1 {
		t.Errorf("response = %+v", got)
	}
}

func TestSaveHorsesErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"casting", `[]`, &database.CastingError{Column: "foaling_date", Value: "x"}, http.StatusUnprocessableEntity},
		{"read only", `[]`, racing.ErrReadOnly, http.StatusForbidden},
		{"missing table", `[]`, &database.SchemaLookupError{Table: "tvg.horses"}, http.StatusNotFound},
		{"database down", `[]`, errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(config.ServerConfig{})
			env.repo.saveErr = tt.err
			rec := env.do(http.MethodPut, "/api/v1/horses", tt.body)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
			if got := decode[map[string]string](t, rec); got["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestTableColumns(t *testing.T) {
	env := newEnv(config.ServerConfig{})

	rec := env.do(http.MethodGet, "/api/v1/tables/tvg.races/columns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("columns = %d", rec.Code)
	}
	got := decode[struct {
		Table   string   `json:"table"`
		Columns []string `json:"columns"`
	}](t, rec)
	if got.Table != "tvg.races" || len(got.Columns) != 2 {
		t.Errorf("response = %+v", got)
	}

	rec = env.do(http.MethodGet, "/api/v1/tables/tvg.nope/columns", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown table = %d, want 404", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	env := newEnv(config.ServerConfig{AuthToken: "s3cret"})

	if rec := env.do(http.MethodGet, "/api/v1/sync/status", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/sync/status", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/sync/status", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Errorf("good token = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/sync/status?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Errorf("query token = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health behind auth = %d", rec.Code)
	}
}

func TestCors(t *testing.T) {
	env := newEnv(config.ServerConfig{CorsOrigins: []string{"https://dash.example.com"}})

	rec := env.do(http.MethodOptions, "/api/v1/races", "", "Origin", "https://dash.example.com")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("allow origin = %q", got)
	}

	rec = env.do(http.MethodGet, "/api/v1/races", "", "Origin", "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub([]string{"*"})
	hub.Start()
	defer hub.Stop()

	h := NewHandler(config.ServerConfig{}, &fakeManager{}, &fakeHistory{}, &fakeRepo{}, fakeSchema{}, hub)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}

	if m := read(); m.Type != MessageTypeConnected {
		t.Fatalf("first message = %+v", m)
	}

	hub.Notify(sync.Event{Type: sync.SyncComplete, RunID: "run-1", Table: config.RacesTable, Rows: 12, Time: time.Now()})

	m := read()
	if m.Type != string(sync.SyncComplete) {
		t.Fatalf("message type = %q", m.Type)
	}
	var e sync.Event
	if err := json.Unmarshal(m.Data, &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if e.RunID != "run-1" || e.Rows != 12 {
		t.Errorf("event = %+v", e)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("clients = %d", hub.ClientCount())
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"*", "https://dash.example.com", "localhost:3000"})
	want := []string{"*", "dash.example.com", "localhost:3000"}
	if !slices.Equal(got, want) {
		t.Errorf("originPatterns = %v, want %v", got, want)
	}
}
