package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"atelierdesk/internal/config"
	"atelierdesk/internal/db"
	"atelierdesk/internal/domain"
	"atelierdesk/internal/engine"
	"atelierdesk/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("load engine: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestOrderLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"title":    "Cover Art",
		"amount":   1000,
		"deadline": "2024-07-01",
		"source":   "Skeb",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created OrderResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if created.Revision != 1 || created.Stage != "Not Started" {
		t.Fatalf("created order %+v", created)
	}
	if created.Net != 900 {
		t.Fatalf("net = %v, want 900 after the Skeb cut", created.Net)
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/orders/"+created.ID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", getRes.StatusCode, string(getBody))
	}

	patchRes, patchBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/orders/"+created.ID, map[string]any{
		"stage": "Coloring",
	}, nil)
	if patchRes.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", patchRes.StatusCode, string(patchBody))
	}
	var patched OrderResponse
	_ = json.Unmarshal(patchBody, &patched)
	if patched.Revision != 2 || patched.Completion != 75 {
		t.Fatalf("patched order %+v", patched)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/orders", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", listRes.StatusCode)
	}
	var listed []OrderResponse
	if err := json.Unmarshal(listBody, &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 order, got %d", len(listed))
	}

	delRes, _ := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/orders/"+created.ID, nil, nil)
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", delRes.StatusCode)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orders/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
}

func TestImportEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/import", map[string]any{
		"mode": "merge",
		"candidates": []map[string]any{
			{"title": "A", "deadline": "2024-07-01", "amount": 100},
			{"title": "B", "deadline": "2024-07-02", "amount": 200},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var summary domain.ImportSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Added != 2 || summary.Updated != 0 {
		t.Fatalf("summary %+v", summary)
	}

	// Same batch again merges in place.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/import", map[string]any{
		"candidates": []map[string]any{
			{"title": "A", "deadline": "2024-07-01", "amount": 150},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second import status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &summary)
	if summary.Added != 0 || summary.Updated != 1 {
		t.Fatalf("second summary %+v", summary)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/import", map[string]any{
		"mode":       "sideways",
		"candidates": []map[string]any{},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad mode status %d: %s", res.StatusCode, string(data))
	}
}

func TestImportXLSXEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]any{
		{"Title", "Amount", "Deadline"},
		{"Sheet Order", 500, "2024-07-10"},
	} {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/import/xlsx?mode=append", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import xlsx status %d: %s", res.StatusCode, string(data))
	}
	var summary domain.ImportSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Added != 1 {
		t.Fatalf("summary %+v", summary)
	}
	if len(srv.Engine.Orders()) != 1 {
		t.Fatalf("order not stored")
	}
}

func TestTaxonomyCascadeEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"title":    "Poster",
		"amount":   400,
		"deadline": "2024-07-01",
	}, nil)
	var created OrderResponse
	_ = json.Unmarshal(data, &created)

	tax := srv.Engine.Taxonomy()
	tax.Stages[0].Name = "Queued"
	res, body := doJSON(t, client, http.MethodPut, srv.URL+"/v0/taxonomy", tax, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put taxonomy status %d: %s", res.StatusCode, string(body))
	}
	var applied TaxonomyApplyResponse
	if err := json.Unmarshal(body, &applied); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if applied.Cascaded != 1 {
		t.Fatalf("cascaded = %d", applied.Cascaded)
	}
	got, _ := srv.Engine.GetOrder(created.ID)
	if got.Stage != "Queued" {
		t.Fatalf("stage not cascaded: %s", got.Stage)
	}
}

func TestStatsAndEventsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"title": "One", "amount": 100, "deadline": "2024-07-01", "source": "Skeb",
	}, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d", res.StatusCode)
	}
	var stats struct {
		Total    int     `json:"total"`
		NetTotal float64 `json:"net_total"`
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Total != 1 || stats.NetTotal != 90 {
		t.Fatalf("stats %+v", stats)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=order.created", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d", res.StatusCode)
	}
	var evts []domain.Event
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != 1 || evts[0].Type != "order.created" {
		t.Fatalf("events %+v", evts)
	}
}

func TestExportEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders", map[string]any{
		"title": "Album Cover", "amount": 1000, "deadline": "2024-07-01",
	}, nil)
	var created OrderResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/orders/"+created.ID+"/calendar.ics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ics status %d: %s", res.StatusCode, string(body))
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/calendar" {
		t.Fatalf("ics content type %q", ct)
	}
	if !strings.Contains(string(body), "SUMMARY:Album Cover") {
		t.Fatalf("ics body missing summary:\n%s", string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/export.xlsx", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("xlsx status %d", res.StatusCode)
	}
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("reopen exported workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != "Album Cover" {
		t.Fatalf("exported rows %v", rows)
	}
}

func TestAuthFlow(t *testing.T) {
	auth := AuthConfig{AccessKey: "sesame", JWTSecret: "test-secret"}
	srv, cleanup := newTestServer(t, auth)
	defer cleanup()
	client := srv.Client()

	// Health stays open.
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	// Everything else is locked without a token.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/orders", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"access_key": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"access_key": "sesame",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/orders", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated list status %d: %s", res.StatusCode, string(data))
	}
}
