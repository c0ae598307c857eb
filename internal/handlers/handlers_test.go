package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
	"github.com/fndparking/admin/internal/storage"
)

// ---------- Fixtures ----------

type failingWrites struct {
	storage.Store
	err error
}

func (f *failingWrites) Update(context.Context, string, string, map[string]any) error {
	return f.err
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors"`
}

type testAPI struct {
	handler  http.Handler
	store    *storage.MemoryStore
	sessions *services.Sessions
	token    string
}

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	created := time.Now().UTC().Add(-48 * time.Hour)

	docs := []struct {
		collection, id string
		fields         map[string]any
	}{
		{storage.CollectionUsers, "u1", map[string]any{"name": "Jane Driver", "email": "jane@example.com", "role": "user", "status": "active"}},
		{storage.CollectionUsers, "admin1", map[string]any{"name": "Root", "email": "root@example.com", "role": "admin", "status": "active"}},
		{storage.CollectionParkingSpots, "s1", map[string]any{"title": "Mall P1", "status": "available", "reportedBy": "Jane Driver", "createdAt": created}},
		{storage.CollectionParkingSpots, "s2", map[string]any{"title": "Station lot", "status": "occupied", "reportedBy": "Sam", "createdAt": created.Add(time.Hour)}},
		{storage.CollectionFraudReports, "r1", map[string]any{
			"reportedMarkerId": "s1",
			"reportedUser":     map[string]any{"userId": "u1", "userEmail": "jane@example.com"},
			"reason":           "spot does not exist",
			"timestamp":        created,
		}},
	}
	for _, d := range docs {
		if err := store.Set(ctx, d.collection, d.id, d.fields, false); err != nil {
			t.Fatalf("seed %s/%s: %v", d.collection, d.id, err)
		}
	}
	return store
}

func newTestAPI(t *testing.T, store storage.Store, health *HealthHandler) *testAPI {
	t.Helper()
	return newTestAPIWithLog(t, store, health, zerolog.Nop())
}

func newTestAPIWithLog(t *testing.T, store storage.Store, health *HealthHandler, log zerolog.Logger) *testAPI {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	authSvc := services.NewAuthService(
		services.NewStaticAuthenticator("admin@fndparking.test", string(hash), "Admin"),
		services.NewMemoryRevoker(), "test-secret", time.Hour,
	)
	sessions := services.NewSessions(services.DashboardDeps{
		Users:   services.NewUserService(store, nil, log),
		Spots:   services.NewParkingSpotService(store, log),
		Reports: services.NewFraudReportService(store, log),
		Log:     log,
	})
	t.Cleanup(sessions.CloseAll)

	api := &testAPI{
		handler: NewRouter(RouterConfig{
			Auth:     authSvc,
			Sessions: sessions,
			Health:   health,
			CORS:     cors.Options{AllowedOrigins: []string{"http://localhost:3000"}},
			Log:      log,
		}),
		sessions: sessions,
	}
	if ms, ok := store.(*storage.MemoryStore); ok {
		api.store = ms
	}

	rr := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"admin@fndparking.test","password":"s3cret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	var login models.AuthResponse
	decodeEnvelope(t, rr, &login)
	api.token = login.Token
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rr.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

// ---------- Auth ----------

func TestLogin_Validation(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)
	api.token = ""

	rr := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"not-an-email"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	env := decodeEnvelope(t, rr, nil)
	if env.Errors["email"] == "" || env.Errors["password"] != "is required" {
		t.Fatalf("errors = %v", env.Errors)
	}

	rr = api.do(t, http.MethodPost, "/api/auth/login", `{"email":"admin@fndparking.test","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/api/auth/login", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status = %d", rr.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)
	api.token = ""
	for _, path := range []string{"/api/users", "/api/parking-spots", "/api/dashboard/stats", "/api/analytics"} {
		if rr := api.do(t, http.MethodGet, path, ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", path, rr.Code)
		}
	}
}

func TestMeAndLogout(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	rr := api.do(t, http.MethodGet, "/api/auth/me", "")
	var me meResponse
	decodeEnvelope(t, rr, &me)
	if rr.Code != http.StatusOK || me.User.Email != "admin@fndparking.test" {
		t.Fatalf("me: %d %+v", rr.Code, me)
	}

	if rr := api.do(t, http.MethodPost, "/api/auth/logout", ""); rr.Code != http.StatusOK {
		t.Fatalf("logout: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/users", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("token still accepted after logout: %d", rr.Code)
	}
}

// ---------- Users ----------

func TestListUsers(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	rr := api.do(t, http.MethodGet, "/api/users?search=jane", "")
	var view models.UsersView
	decodeEnvelope(t, rr, &view)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(view.Users) != 1 || view.Users[0].ID != "u1" {
		t.Fatalf("users = %+v", view.Users)
	}
	if len(view.ReportedUsers) != 1 || view.ReportedUsers[0].FraudReportCount != 1 {
		t.Fatalf("reported = %+v", view.ReportedUsers)
	}
	if view.Stats.Total != 2 || view.UsersPage.PerPage != services.UsersPerPage {
		t.Fatalf("stats = %+v page = %+v", view.Stats, view.UsersPage)
	}
}

func TestToggleStatus(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	rr := api.do(t, http.MethodPost, "/api/users/u1/toggle-status", "")
	var user models.User
	decodeEnvelope(t, rr, &user)
	if rr.Code != http.StatusOK || user.Status != models.UserStatusDeactivated {
		t.Fatalf("toggle: %d %+v", rr.Code, user)
	}

	doc, err := api.store.Get(context.Background(), storage.CollectionUsers, "u1")
	if err != nil || doc.Data["status"] != "deactivated" {
		t.Fatalf("stored status = %v (%v)", doc.Data["status"], err)
	}

	if rr := api.do(t, http.MethodPost, "/api/users/admin1/toggle-status", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("admin toggle: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodPost, "/api/users/ghost/toggle-status", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown user: %d", rr.Code)
	}
}

func TestToggleStatus_WriteFailure(t *testing.T) {
	store := &failingWrites{Store: seedStore(t), err: errors.New("permission denied")}
	api := newTestAPI(t, store, nil)

	rr := api.do(t, http.MethodPost, "/api/users/u1/toggle-status", "")
	env := decodeEnvelope(t, rr, nil)
	if rr.Code != http.StatusBadGateway || !strings.Contains(env.Error, "permission denied") {
		t.Fatalf("status = %d error = %q", rr.Code, env.Error)
	}

	var view models.UsersView
	decodeEnvelope(t, api.do(t, http.MethodGet, "/api/users", ""), &view)
	for _, u := range view.Users {
		if u.ID == "u1" && u.Status != models.UserStatusActive {
			t.Fatalf("failed write changed the view: %+v", u)
		}
	}
}

func TestUserDetailLifecycle(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	if rr := api.do(t, http.MethodGet, "/api/users/detail", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("detail before open: %d", rr.Code)
	}

	rr := api.do(t, http.MethodGet, "/api/users/u1/reports", "")
	var detail models.UserDetailView
	decodeEnvelope(t, rr, &detail)
	if rr.Code != http.StatusOK || len(detail.Reports) != 1 || detail.Reports[0].SpotMissing {
		t.Fatalf("detail: %d %+v", rr.Code, detail)
	}

	if rr := api.do(t, http.MethodGet, "/api/users/detail", ""); rr.Code != http.StatusOK {
		t.Fatalf("open detail: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodDelete, "/api/users/detail", ""); rr.Code != http.StatusOK {
		t.Fatalf("close detail: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/users/detail", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("detail after close: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/users/ghost/reports", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown user detail: %d", rr.Code)
	}
}

func TestCreateSampleUsers(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	if rr := api.do(t, http.MethodPost, "/api/users/samples", ""); rr.Code != http.StatusCreated {
		t.Fatalf("status = %d", rr.Code)
	}
	var view models.UsersView
	decodeEnvelope(t, api.do(t, http.MethodGet, "/api/users", ""), &view)
	if view.Stats.Total != 5 {
		t.Fatalf("total users = %d", view.Stats.Total)
	}
}

// ---------- Fraud reports ----------

func TestResolveReport(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	for i := 0; i < 2; i++ {
		if rr := api.do(t, http.MethodPost, "/api/fraud-reports/r1/resolve", ""); rr.Code != http.StatusOK {
			t.Fatalf("resolve #%d: %d", i, rr.Code)
		}
	}

	var view models.UsersView
	decodeEnvelope(t, api.do(t, http.MethodGet, "/api/users", ""), &view)
	if !view.NoReported || len(view.ReportedUsers) != 0 {
		t.Fatalf("reported users after resolve: %+v", view.ReportedUsers)
	}

	doc, _ := api.store.Get(context.Background(), storage.CollectionFraudReports, "r1")
	if doc.Data["status"] != models.FraudReportResolved || doc.Data["resolvedBy"] != "admin@fndparking.test" {
		t.Fatalf("stored report = %v", doc.Data)
	}
}

// ---------- Parking spots ----------

func TestParkingSpots(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	if rr := api.do(t, http.MethodGet, "/api/parking-spots?filter=broken", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: %d", rr.Code)
	}

	rr := api.do(t, http.MethodGet, "/api/parking-spots?filter=reported", "")
	var view models.ParkingSpotsView
	decodeEnvelope(t, rr, &view)
	if rr.Code != http.StatusOK || len(view.Spots) != 1 || view.Spots[0].ID != "s1" {
		t.Fatalf("reported filter: %d %+v", rr.Code, view.Spots)
	}
	if view.Stats.Total != 2 || view.Stats.AvailabilityRate != 50 {
		t.Fatalf("stats = %+v", view.Stats)
	}

	if rr := api.do(t, http.MethodPatch, "/api/parking-spots/s2", `{"status":"closed"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodPatch, "/api/parking-spots/s2", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: %d", rr.Code)
	}

	rr = api.do(t, http.MethodPatch, "/api/parking-spots/s2", `{"status":"reserved"}`)
	var spot models.ParkingSpot
	decodeEnvelope(t, rr, &spot)
	if rr.Code != http.StatusOK || spot.Status != models.SpotReserved {
		t.Fatalf("patch: %d %+v", rr.Code, spot)
	}

	rr = api.do(t, http.MethodGet, "/api/parking-spots/s1", "")
	var summary models.SpotFraudSummary
	decodeEnvelope(t, rr, &summary)
	if rr.Code != http.StatusOK || summary.FraudReportCount != 1 {
		t.Fatalf("get: %d %+v", rr.Code, summary)
	}

	if rr := api.do(t, http.MethodDelete, "/api/parking-spots/s1", ""); rr.Code != http.StatusOK {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/parking-spots/s1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rr.Code)
	}
	if rr := api.do(t, http.MethodDelete, "/api/parking-spots/s1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("delete twice: %d", rr.Code)
	}

	// The report on the deleted spot stays, flagged as pointing nowhere.
	var detail models.UserDetailView
	decodeEnvelope(t, api.do(t, http.MethodGet, "/api/users/u1/reports", ""), &detail)
	if len(detail.Reports) != 1 || !detail.Reports[0].SpotMissing {
		t.Fatalf("detail after delete: %+v", detail.Reports)
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestParkingSpotStream(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)
	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/parking-spots/stream?filter=reserved", nil)
	req.Header.Set("Authorization", "Bearer "+api.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	var view models.ParkingSpotsView
	ev := readEvent(t, reader)
	if err := json.Unmarshal([]byte(ev.data), &view); err != nil || ev.name != "snapshot" {
		t.Fatalf("first event %q: %v", ev.name, err)
	}
	if len(view.Spots) != 0 {
		t.Fatalf("no spot should be reserved yet: %+v", view.Spots)
	}

	// A write by someone else reaches the stream through the store listener.
	if err := api.store.Update(context.Background(), storage.CollectionParkingSpots, "s2", map[string]any{"status": "reserved"}); err != nil {
		t.Fatal(err)
	}
	ev = readEvent(t, reader)
	if err := json.Unmarshal([]byte(ev.data), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Spots) != 1 || view.Spots[0].ID != "s2" {
		t.Fatalf("pushed view = %+v", view.Spots)
	}

	api.sessions.CloseAll()
	if ev := readEvent(t, reader); ev.name != "closed" {
		t.Fatalf("expected closed event, got %q", ev.name)
	}
}

func TestParkingSpotStreamHeartbeat(t *testing.T) {
	log := zerolog.Nop()
	store := seedStore(t)
	sessions := services.NewSessions(services.DashboardDeps{
		Users:   services.NewUserService(store, nil, log),
		Spots:   services.NewParkingSpotService(store, log),
		Reports: services.NewFraudReportService(store, log),
		Log:     log,
	})
	t.Cleanup(sessions.CloseAll)

	h := NewParkingSpotHandler(sessions, log)
	h.heartbeat = 10 * time.Millisecond
	session := &services.Session{ID: "sess-1", Principal: models.Principal{UserID: "admin1"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r.WithContext(context.WithValue(r.Context(), middleware.SessionKey, session)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	if ev := readEvent(t, reader); ev.name != "snapshot" {
		t.Fatalf("first event = %q", ev.name)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if line == ": ping\n" {
			break
		}
	}

	d := sessions.Dashboard(context.Background(), "sess-1", session.Principal)
	if !d.Watching() {
		t.Fatal("spot listener should be running while the stream is open")
	}
}

// ---------- Dashboard & health ----------

func TestStatsRefreshAnalytics(t *testing.T) {
	api := newTestAPI(t, seedStore(t), nil)

	rr := api.do(t, http.MethodGet, "/api/dashboard/stats", "")
	var stats models.DashboardStats
	decodeEnvelope(t, rr, &stats)
	if rr.Code != http.StatusOK || stats.TotalUsers != 2 || stats.ReportedSpots != 1 || stats.AvailableSpots != 1 {
		t.Fatalf("stats: %d %+v", rr.Code, stats)
	}

	if err := api.store.Set(context.Background(), storage.CollectionUsers, "u3", map[string]any{"email": "new@example.com"}, false); err != nil {
		t.Fatal(err)
	}
	rr = api.do(t, http.MethodPost, "/api/dashboard/refresh", "")
	decodeEnvelope(t, rr, &stats)
	if rr.Code != http.StatusOK || stats.TotalUsers != 3 {
		t.Fatalf("refresh: %d %+v", rr.Code, stats)
	}

	rr = api.do(t, http.MethodGet, "/api/analytics", "")
	var analytics models.Analytics
	decodeEnvelope(t, rr, &analytics)
	if rr.Code != http.StatusOK || len(analytics.SpotGrowth.Labels) != services.AnalyticsDays {
		t.Fatalf("analytics: %d labels=%d", rr.Code, len(analytics.SpotGrowth.Labels))
	}
}

func TestHealth(t *testing.T) {
	healthy := newTestAPI(t, seedStore(t), NewHealthHandler("1.0.0", map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	}))
	if rr := healthy.do(t, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthy: %d", rr.Code)
	}

	degraded := newTestAPI(t, seedStore(t), NewHealthHandler("1.0.0", map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}))
	rr := degraded.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("degraded: %d %s", rr.Code, rr.Body.String())
	}
}

func TestMutationLogsCarryActor(t *testing.T) {
	var buf bytes.Buffer
	api := newTestAPIWithLog(t, seedStore(t), nil, zerolog.New(&buf))

	rr := api.do(t, http.MethodPost, "/api/users/u1/toggle-status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(buf.String(), `"actor":"admin:admin@fndparking.test"`) {
		t.Fatalf("log lacks actor: %s", buf.String())
	}
}
