package apic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

// fakeController is a minimal controller REST API.
type fakeController struct {
	mu         sync.Mutex
	validToken string
	refreshes  int
	posts      []map[string]interface{}
	queries    []string
	failNext   int
}

func (f *fakeController) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ck, err := r.Cookie(cookieName)
	return err == nil && ck.Value == f.validToken
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func imdataError(code, text string) map[string]interface{} {
	return map[string]interface{}{"imdata": []interface{}{
		map[string]interface{}{"error": map[string]interface{}{"attributes": map[string]string{"code": code, "text": text}}},
	}}
}

func rows(class string, attrs ...map[string]string) map[string]interface{} {
	data := make([]interface{}, 0, len(attrs))
	for _, a := range attrs {
		data = append(data, map[string]interface{}{class: map[string]interface{}{"attributes": a}})
	}
	return map[string]interface{}{"totalCount": "0", "imdata": data}
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, imdataError("503", "busy"))
		return
	}
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/aaaLogin.json":
		var body struct {
			AaaUser struct {
				Attributes struct {
					Name string `json:"name"`
					Pwd  string `json:"pwd"`
				} `json:"attributes"`
			} `json:"aaaUser"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.AaaUser.Attributes.Name != "admin" || body.AaaUser.Attributes.Pwd != "secret" {
			writeJSON(w, http.StatusUnauthorized, imdataError("401", "Username or password is incorrect"))
			return
		}
		f.mu.Lock()
		f.validToken = "token-1"
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, rows("aaaLogin", map[string]string{"token": "token-1"}))

	case !f.authorized(r):
		writeJSON(w, http.StatusForbidden, imdataError("403", "Token was invalid (Error: Token timeout)"))

	case r.URL.Path == "/api/aaaRefresh.json":
		f.mu.Lock()
		f.refreshes++
		f.validToken = "token-refreshed"
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, rows("aaaLogin", map[string]string{"token": "token-refreshed"}))

	case r.URL.Path == "/api/class/topSystem.json" && r.URL.Query().Get("rsp-subtree-include") == "count":
		writeJSON(w, http.StatusOK, rows("moCount", map[string]string{"count": "3"}))

	case r.URL.Path == "/api/class/topSystem.json":
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.Query().Get("query-target-filter"))
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, rows("topSystem",
			map[string]string{"dn": "topology/pod-1/node-101/sys", "role": "leaf"},
			map[string]string{"dn": "topology/pod-1/node-201/sys", "role": "spine"},
		))

	case strings.HasPrefix(r.URL.Path, "/api/node/mo/uni/backupst/"):
		if r.URL.Query().Get("query-target") != "children" {
			writeJSON(w, http.StatusBadRequest, imdataError("400", "missing query-target"))
			return
		}
		writeJSON(w, http.StatusOK, rows("configJob",
			map[string]string{"dn": "job-1", "operSt": "failed"},
			map[string]string{"dn": "job-2", "operSt": "success"},
		))

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/node/mo/"):
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posts = append(f.posts, body)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{"imdata": []interface{}{}})

	default:
		writeJSON(w, http.StatusBadRequest, imdataError("400", "unknown path"))
	}
}

func newTestClient(t *testing.T, f *fakeController, opts ...ClientOption) (*Client, *testingclock.FakeClock) {
	t.Helper()
	srv := httptest.NewTLSServer(f)
	t.Cleanup(srv.Close)

	clk := testingclock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig(strings.TrimPrefix(srv.URL, "https://"), "admin", "secret")
	cfg.SessionLifetime = time.Hour

	c, err := NewClient(cfg, append([]ClientOption{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return c, clk
}

func TestClient_Login(t *testing.T) {
	f := &fakeController{}
	c, clk := newTestClient(t, f)

	s, err := c.NewSession(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, clk.Now(), s.IssuedAt())
	assert.Equal(t, clk.Now().Add(time.Hour), s.ExpiresAt())
	assert.Equal(t, "token-1", s.(*Session).Token())
}

func TestClient_LoginRejected(t *testing.T) {
	f := &fakeController{}
	c, _ := newTestClient(t, f)
	c.config.Password = "wrong"

	_, err := c.NewSession(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsAuth(err))
	assert.Contains(t, err.Error(), "Username or password is incorrect")
}

func TestClient_LoginServerErrorIsTransient(t *testing.T) {
	f := &fakeController{failNext: 1}
	c, _ := newTestClient(t, f)

	_, err := c.NewSession(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestClient_ConnectionRefusedIsTransient(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:1", "admin", "secret")
	cfg.RequestTimeout = time.Second
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.NewSession(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestSession_GetClass(t *testing.T) {
	f := &fakeController{}
	c, _ := newTestClient(t, f)
	s, err := c.Login(context.Background())
	require.NoError(t, err)

	filter := Or(Eq("topSystem", "role", "leaf"), Eq("topSystem", "role", "spine"))
	records, err := s.GetClass(context.Background(), "topSystem", &engine.Query{Filter: filter})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "topology/pod-1/node-101/sys", records[0].DN())
	assert.Equal(t, "spine", records[1].Get("role"))
	assert.Equal(t, []string{`or(eq(topSystem.role,"leaf"),eq(topSystem.role,"spine"))`}, f.queries)
}

func TestSession_GetObjectAndCount(t *testing.T) {
	f := &fakeController{}
	c, _ := newTestClient(t, f)
	s, err := c.Login(context.Background())
	require.NoError(t, err)

	jobs, err := s.GetObject(context.Background(), "uni/backupst/jobs-[uni/fabric/configexp-nightly]", "configJob",
		&engine.Query{Target: "children", TargetSubtreeClass: "configJob"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "success", jobs[1].Get("operSt"))

	n, err := s.Count(context.Background(), "topSystem")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSession_Request(t *testing.T) {
	f := &fakeController{}
	c, _ := newTestClient(t, f)
	s, err := c.Login(context.Background())
	require.NoError(t, err)

	status, err := s.Request(context.Background(), http.MethodPost, "/api/node/mo/uni/fabric/configexp-nightly", map[string]interface{}{
		"configExportP": map[string]interface{}{"attributes": map[string]string{"adminSt": "triggered"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, f.posts, 1)
	assert.Contains(t, f.posts[0], "configExportP")

	status, err = s.Request(context.Background(), http.MethodGet, "/api/unknown", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSession_RefreshesStaleToken(t *testing.T) {
	f := &fakeController{}
	c, clk := newTestClient(t, f)
	s, err := c.Login(context.Background())
	require.NoError(t, err)

	_, err = s.GetClass(context.Background(), "topSystem", nil)
	require.NoError(t, err)
	assert.Zero(t, f.refreshes)

	clk.Step(9 * time.Minute)
	_, err = s.GetClass(context.Background(), "topSystem", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.refreshes)
	assert.Equal(t, "token-refreshed", s.Token())
}

func TestSession_RejectedTokenIsAuthError(t *testing.T) {
	f := &fakeController{}
	c, _ := newTestClient(t, f)
	s, err := c.Login(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.validToken = "rotated"
	f.mu.Unlock()

	_, err = s.GetClass(context.Background(), "topSystem", nil)
	require.Error(t, err)
	assert.True(t, engine.IsAuth(err))

	_, err = s.Request(context.Background(), http.MethodPost, "/api/node/mo/uni/controller", map[string]string{})
	assert.True(t, engine.IsAuth(err))
}

func TestSession_ServerErrorIsTransient(t *testing.T) {
	f := &fakeController{}
	c, _ := newTestClient(t, f)
	s, err := c.Login(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.failNext = 1
	f.mu.Unlock()

	_, err = s.GetClass(context.Background(), "topSystem", nil)
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestFilters(t *testing.T) {
	assert.Equal(t, `eq(maintUpgJob.maintGrp,"odd")`, Eq("maintUpgJob", "maintGrp", "odd"))
	assert.Equal(t, `eq(a.b,"c")`, Or(Eq("a", "b", "c")))
	assert.Equal(t, `and(x,y)`, And("x", "y"))
	assert.Empty(t, Or())

	v := encodeQuery(&engine.Query{Target: "subtree", TargetSubtreeClass: "dbgexpTechSupStatus"})
	assert.Equal(t, "subtree", v.Get("query-target"))
	assert.Equal(t, "dbgexpTechSupStatus", v.Get("target-subtree-class"))
	assert.Empty(t, v.Get("query-target-filter"))
	assert.Empty(t, encodeQuery(nil))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig("10.0.0.1", "admin", "secret")
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "https://10.0.0.1/api/class/topSystem.json", cfg.URL("/api/class/topSystem"))

	cfg.Host = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("10.0.0.1", "admin", "secret")
	cfg.RateLimit = 5
	cfg.Burst = 0
	assert.Error(t, cfg.Validate())
}
