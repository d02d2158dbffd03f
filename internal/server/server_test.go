package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"univote/config"
	"univote/internal/domain/user"
	"univote/internal/handler"
	"univote/internal/mail"
	"univote/internal/otp"
	"univote/internal/repository"
	"univote/internal/services"
	"univote/internal/websocket"
	"univote/pkg/events"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendVerificationCode(_ context.Context, msg mail.VerificationEmail) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.codes == nil {
		i.codes = make(map[string]string)
	}
	i.codes[msg.To] = msg.Code
	return nil
}

func (i *inbox) code(email string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[email]
}

type testAPI struct {
	t     *testing.T
	srv   *httptest.Server
	inbox *inbox
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := &config.Config{
		AppMode:       TestMode,
		JWTSecret:     "server-test",
		JWTExpiryMin:  15,
		RefreshExpiry: 1,
		CORSOrigins:   []string{"*"},
	}
	repos := repository.NewMemoryRepositories()
	hash, err := services.HashPassword("admin-pass")
	if err != nil {
		t.Fatal(err)
	}
	if err := repos.Users.Create(context.Background(), &user.User{Email: "admin@uni.test", Name: "Admin", PasswordHash: hash, Role: user.RoleAdmin}); err != nil {
		t.Fatal(err)
	}

	box := &inbox{}
	otpSvc := otp.NewService(otp.NewMemoryStore(), box, otp.Config{}, nil)
	pub := services.NewEventPublisher(events.NewMemoryBroker(nil), nil)
	auth := services.NewAuthService(repos.Users, repos.Invitations, nil, cfg, nil)
	results := services.NewResultsService(repos.Polls, repos.Votes, nil, nil, nil)
	polls := services.NewPollService(repos.Polls, repos.Votes, nil, pub, nil).WithArchiver(results)
	votes := services.NewVoteService(repos.Polls, repos.Votes, otpSvc, pub, nil)
	hub := websocket.NewHub()

	s := New(cfg, nil)
	s.SetupRoutes(&Handlers{
		Auth:      handler.NewAuthHandler(auth),
		Polls:     handler.NewPollHandler(polls),
		Votes:     handler.NewVoteHandler(votes),
		Results:   handler.NewResultsHandler(results),
		Health:    handler.NewHealthHandler(nil),
		WebSocket: websocket.NewHandler(auth, polls, hub, websocket.NewRelay(hub, results, nil), nil),
	}, auth, nil)

	ts := httptest.NewServer(s.Engine())
	t.Cleanup(ts.Close)
	return &testAPI{t: t, srv: ts, inbox: box}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (a *testAPI) call(method, path, token string, body interface{}, out interface{}) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		a.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		a.t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			a.t.Fatalf("%s %s: data: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func (a *testAPI) login(email, password string) string {
	a.t.Helper()
	var auth struct {
		AccessToken string `json:"access_token"`
	}
	status, env := a.call(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password}, &auth)
	if status != http.StatusOK {
		a.t.Fatalf("login %s: %d %+v", email, status, env)
	}
	return auth.AccessToken
}

func (a *testAPI) register(email string) string {
	a.t.Helper()
	var auth struct {
		AccessToken string `json:"access_token"`
	}
	status, env := a.call(http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "name": "Student", "password": "secret123"}, &auth)
	if status != http.StatusCreated && status != http.StatusOK {
		a.t.Fatalf("register %s: %d %+v", email, status, env)
	}
	return auth.AccessToken
}

type flowDTO struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func TestVotingEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.login("admin@uni.test", "admin-pass")
	studentToken := api.register("sam@uni.test")

	now := time.Now()
	pollReq := map[string]interface{}{
		"title":    "Class rep",
		"type":     "single",
		"options":  []map[string]string{{"id": "a", "label": "Ada"}, {"id": "b", "label": "Bo"}},
		"startsAt": now.Add(-time.Minute),
		"endsAt":   now.Add(time.Hour),
	}
	if status, _ := api.call(http.MethodPost, "/v1/admin/polls", studentToken, pollReq, nil); status != http.StatusForbidden {
		t.Fatalf("student create poll: %d", status)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if status, env := api.call(http.MethodPost, "/v1/admin/polls", adminToken, pollReq, &created); status != http.StatusCreated {
		t.Fatalf("create poll: %d %+v", status, env)
	}
	if created.Status != "active" {
		t.Fatalf("status = %s", created.Status)
	}

	var list []struct {
		ID string `json:"id"`
	}
	if status, _ := api.call(http.MethodGet, "/v1/polls", studentToken, nil, &list); status != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: %d %v", status, list)
	}

	var flow flowDTO
	if status, env := api.call(http.MethodPost, "/v1/polls/"+created.ID+"/flow", studentToken, nil, &flow); status != http.StatusCreated {
		t.Fatalf("start: %d %+v", status, env)
	}
	base := "/v1/flows/" + flow.ID
	steps := []struct {
		path string
		body interface{}
		want string
	}{
		{"/select", map[string][]string{"option_ids": {"b"}}, "SELECTING"},
		{"/review", nil, "REVIEWING"},
		{"/code", nil, "VERIFYING"},
	}
	for _, s := range steps {
		if status, env := api.call(http.MethodPost, base+s.path, studentToken, s.body, &flow); status != http.StatusOK || flow.State != s.want {
			t.Fatalf("%s: %d state=%s %+v", s.path, status, flow.State, env)
		}
	}

	code := api.inbox.code("sam@uni.test")
	if status, env := api.call(http.MethodPost, base+"/verify", studentToken, map[string]string{"code": code}, &flow); status != http.StatusOK || flow.State != "SUBMITTING" {
		t.Fatalf("verify: %d %s %+v", status, flow.State, env)
	}
	if status, env := api.call(http.MethodPost, base+"/submit", studentToken, nil, &flow); status != http.StatusOK || flow.State != "DONE" {
		t.Fatalf("submit: %d %s %+v", status, flow.State, env)
	}

	var voted struct {
		Voted bool `json:"voted"`
	}
	if status, _ := api.call(http.MethodGet, "/v1/polls/"+created.ID+"/voted", studentToken, nil, &voted); status != http.StatusOK || !voted.Voted {
		t.Fatalf("voted: %d %v", status, voted.Voted)
	}
	if status, env := api.call(http.MethodPost, "/v1/polls/"+created.ID+"/flow", studentToken, nil, nil); status != http.StatusConflict || env.Code != "ALREADY_VOTED" {
		t.Fatalf("second flow: %d %+v", status, env)
	}

	if status, env := api.call(http.MethodGet, "/v1/polls/"+created.ID+"/results", studentToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("hidden results: %d %+v", status, env)
	}
	if status, _ := api.call(http.MethodPost, "/v1/admin/polls/"+created.ID+"/close", adminToken, nil, nil); status != http.StatusOK {
		t.Fatalf("close: %d", status)
	}
	time.Sleep(5 * time.Millisecond)
	if status, env := api.call(http.MethodPatch, "/v1/admin/polls/"+created.ID+"/published", adminToken, map[string]bool{"published": true}, nil); status != http.StatusOK {
		t.Fatalf("publish: %d %+v", status, env)
	}

	var results struct {
		Tally map[string]int `json:"tally"`
		Total int            `json:"total"`
	}
	if status, _ := api.call(http.MethodGet, "/v1/polls/"+created.ID+"/results", studentToken, nil, &results); status != http.StatusOK {
		t.Fatalf("results: %d", status)
	}
	if results.Total != 1 || results.Tally["b"] != 1 {
		t.Fatalf("results = %+v", results)
	}

	if status, env := api.call(http.MethodGet, "/v1/admin/polls/"+created.ID+"/snapshot", adminToken, nil, nil); status != http.StatusServiceUnavailable {
		t.Fatalf("snapshot without storage: %d %+v", status, env)
	}
}

func TestUnauthenticatedAndHealth(t *testing.T) {
	api := newTestAPI(t)
	if status, env := api.call(http.MethodGet, "/v1/polls", "", nil, nil); status != http.StatusUnauthorized || env.Code != "UNAUTHORIZED" {
		t.Fatalf("no token: %d %+v", status, env)
	}
	if status, _ := api.call(http.MethodGet, "/ping", "", nil, nil); status != http.StatusOK {
		t.Fatalf("ping: %d", status)
	}
	if status, _ := api.call(http.MethodGet, "/health", "", nil, nil); status != http.StatusOK {
		t.Fatalf("health: %d", status)
	}
}

func TestFlowOfAnotherStudentIsHidden(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.login("admin@uni.test", "admin-pass")
	owner := api.register("one@uni.test")
	other := api.register("two@uni.test")

	now := time.Now()
	var created struct {
		ID string `json:"id"`
	}
	api.call(http.MethodPost, "/v1/admin/polls", adminToken, map[string]interface{}{
		"title":    "Mascot",
		"type":     "single",
		"options":  []map[string]string{{"id": "owl", "label": "Owl"}},
		"startsAt": now.Add(-time.Minute),
		"endsAt":   now.Add(time.Hour),
	}, &created)

	var flow flowDTO
	if status, _ := api.call(http.MethodPost, "/v1/polls/"+created.ID+"/flow", owner, nil, &flow); status != http.StatusCreated {
		t.Fatalf("start: %d", status)
	}
	if status, _ := api.call(http.MethodGet, "/v1/flows/"+flow.ID, other, nil, nil); status != http.StatusNotFound {
		t.Fatalf("foreign flow: %d", status)
	}
	if status, _ := api.call(http.MethodGet, "/v1/flows/not-a-uuid", owner, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("bad id: %d", status)
	}
}
