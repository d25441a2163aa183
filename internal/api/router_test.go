package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/notify"
	"github.com/Harshitk-cp/bnoracle/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func (c *client) do(method, path, key string, body any) (int, map[string]any) {
	c.t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&rd).Encode(body))
	}
	req, err := http.NewRequest(method, c.srv.URL+path, &rd)
	require.NoError(c.t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

type fixture struct {
	*client
	gov, reporter, controller, auditor string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("RATE_LIMIT_RPS", "10000")
	t.Setenv("RATE_LIMIT_BURST", "10000")

	set := memstore.New().Set()
	logger := zap.NewNop()
	app, err := NewApp(set, bayes.Reference(), notify.NewFeed(set.Events, logger), logger)
	require.NoError(t, err)
	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})

	ctx := context.Background()
	key := func(name string, role domain.Role) string {
		_, k, err := app.Actors.Bootstrap(ctx, name, []domain.Role{role})
		require.NoError(t, err)
		return k
	}
	f := &fixture{
		client:     &client{t: t, srv: srv},
		gov:        key("gov", domain.RoleGovernance),
		reporter:   key("field", domain.RoleReporter),
		controller: key("ctl", domain.RoleController),
		auditor:    key("audit", domain.RoleAuditor),
	}

	rows := [][]float64{{0.9, 0.1}, {0.3, 0.7}, {0.2, 0.8}, {0.05, 0.95}}
	tables := map[string][][]float64{"PPH": {{0.9, 0.1}}, "PPR": {{0.8, 0.2}}, "GPS": rows, "PC": rows, "PMD": rows, "PR": rows}
	for node, tbl := range tables {
		status, body := f.do(http.MethodPut, "/v1/cpts/"+node+"/table", f.gov,
			map[string]any{"rows": tbl, "expected_revision": 0})
		require.Equal(t, http.StatusOK, status, body)
	}
	return f
}

func TestAPI_ClaimLifecycle(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(http.MethodPost, "/v1/claims", f.reporter, map[string]any{"external_key": "visit-7"})
	require.Equal(t, http.StatusCreated, status, body)
	id := int64(body["id"].(float64))
	base := fmt.Sprintf("/v1/claims/%d", id)

	status, _ = f.do(http.MethodPost, "/v1/claims", f.reporter, map[string]any{"external_key": "visit-7"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(http.MethodPost, base+"/resolve", f.controller, nil)
	assert.Equal(t, http.StatusBadRequest, status, "no evidence yet")

	for idx, v := range map[int]int{0: 1, 1: 1, 3: 1} {
		status, body = f.do(http.MethodPost, base+"/evidence", f.reporter, map[string]any{"evidence_index": idx, "value": v})
		require.Equal(t, http.StatusCreated, status, body)
	}

	status, body = f.do(http.MethodGet, base+"/evidence", f.auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["evidence_ids"], 3)

	status, body = f.do(http.MethodPost, base+"/resolve", f.controller, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["already_resolved"])
	digest := body["belief"].(map[string]any)["digest"]

	status, body = f.do(http.MethodPost, base+"/resolve", f.controller, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["already_resolved"])
	assert.Equal(t, digest, body["belief"].(map[string]any)["digest"])

	status, _ = f.do(http.MethodPost, base+"/evidence", f.reporter, map[string]any{"evidence_index": 2, "value": 1})
	assert.Equal(t, http.StatusConflict, status, "claim is closed")

	status, body = f.do(http.MethodGet, base+"/belief", f.reporter, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, digest, body["digest"])

	status, body = f.do(http.MethodGet, base+"/verify", f.auditor, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["match"])

	status, body = f.do(http.MethodGet, "/v1/events/verify", f.auditor, nil)
	require.Equal(t, http.StatusOK, status, body)
	// 6 tables + open + 3 evidence + trigger + resolve
	assert.Equal(t, float64(12), body["events"])
}

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   any
		status int
	}{
		{"missing key", http.MethodGet, "/v1/network", "", nil, http.StatusUnauthorized},
		{"bad key", http.MethodGet, "/v1/network", "bno_nope", nil, http.StatusUnauthorized},
		{"wrong role", http.MethodPost, "/v1/claims", f.controller, map[string]any{"external_key": "x"}, http.StatusForbidden},
		{"unknown claim", http.MethodGet, "/v1/claims/99", f.reporter, nil, http.StatusNotFound},
		{"bad claim id", http.MethodGet, "/v1/claims/abc", f.reporter, nil, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/claims", f.reporter, map[string]any{"key": "x"}, http.StatusBadRequest},
		{"missing value", http.MethodPost, "/v1/claims/1/evidence", f.reporter, map[string]any{"evidence_index": 0}, http.StatusBadRequest},
		{"stale cpt revision", http.MethodPut, "/v1/cpts/GPS", f.gov,
			map[string]any{"parent_assignment": []int{0, 0}, "distribution": []float64{0.5, 0.5}, "expected_revision": 0}, http.StatusConflict},
		{"bad distribution", http.MethodPut, "/v1/cpts/GPS", f.gov,
			map[string]any{"parent_assignment": []int{0, 0}, "distribution": []float64{0.5, 0.6}, "expected_revision": 1}, http.StatusBadRequest},
		{"unknown revision", http.MethodGet, "/v1/cpts/GPS/revisions/9", f.gov, nil, http.StatusNotFound},
		{"verify needs auditor", http.MethodGet, "/v1/events/verify", f.reporter, nil, http.StatusForbidden},
		{"actors need governance", http.MethodPost, "/v1/actors", f.reporter,
			map[string]any{"name": "x", "roles": []string{"reporter"}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(tt.method, tt.path, tt.key, tt.body)
			assert.Equal(t, tt.status, status, body)
		})
	}
}

func TestAPI_CPTsAndEvents(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(http.MethodPut, "/v1/cpts/GPS", f.gov, map[string]any{
		"parent_assignment": []int{1, 1}, "distribution": []float64{0.1, 0.9}, "expected_revision": 1,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(2), body["revision"])

	status, body = f.do(http.MethodGet, "/v1/cpts?nodes=GPS,PPH", f.auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body, 2)
	assert.Equal(t, float64(2), body["GPS"].(map[string]any)["revision"])

	status, body = f.do(http.MethodGet, "/v1/cpts/GPS/revisions/1", f.auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["revision"])

	status, body = f.do(http.MethodGet, "/v1/events?after=5&limit=10", f.auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 2)
	assert.Equal(t, float64(7), body["next"])

	status, body = f.do(http.MethodGet, "/v1/network", f.auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"PPH", "PPR"}, body["targets"])
	assert.Equal(t, []any{"GPS", "PC", "PR"}, body["required"])
}

func TestAPI_ActorsAndUnauthenticatedRoutes(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(http.MethodPost, "/v1/actors", f.gov, map[string]any{"name": "field-2", "roles": []string{"reporter"}})
	require.Equal(t, http.StatusCreated, status, body)
	key := body["api_key"].(string)

	status, body = f.do(http.MethodGet, "/v1/actors/me", key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "field-2", body["name"])
	assert.NotContains(t, body, "api_key_hash")

	for _, path := range []string{"/health", "/metrics", "/version"} {
		status, _ := f.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, status, path)
	}
}
