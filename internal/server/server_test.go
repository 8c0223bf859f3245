package server

import (
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ryazanovegor/oliva-space/internal/ledger"
	"github.com/ryazanovegor/oliva-space/internal/store"
)

type testServer struct {
	URL    string
	Ledger *ledger.Ledger
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "oliva.json"))
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	l, err := ledger.New(st, log)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	handler, err := New(Config{Ledger: l, BasePath: "/api"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Ledger: l,
		close:  func() { srv.Close() },
	}
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func seed(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	price := decimal.RequireFromString("200")
	if _, err := l.CreateTask("A", price, "write a post"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := l.CreateTask("B", decimal.RequireFromString("50"), "draw a logo"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := l.ClaimTask("B", 1); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, ts.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("health status %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body: %+v", body)
	}
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)
	seed(t, ts.Ledger)

	var tasks []TaskResponse
	if code := getJSON(t, ts.URL+"/api/tasks", &tasks); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(tasks) != 2 {
		t.Fatalf("want 2 tasks, got %+v", tasks)
	}
	if tasks[0].Price != "200.00" || tasks[0].Status != "in_progress" {
		t.Fatalf("task 1 wire form: %+v", tasks[0])
	}
	if tasks[0].PerformerID == nil || *tasks[0].PerformerID != "B" {
		t.Fatalf("task 1 performer: %+v", tasks[0])
	}

	tasks = nil
	if code := getJSON(t, ts.URL+"/api/tasks?status=open", &tasks); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(tasks) != 1 || tasks[0].ID != 2 {
		t.Fatalf("open filter: %+v", tasks)
	}
}

func TestGetTask(t *testing.T) {
	ts := newTestServer(t)
	seed(t, ts.Ledger)

	var task TaskResponse
	if code := getJSON(t, ts.URL+"/api/tasks/2", &task); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if task.ID != 2 || task.Text != "draw a logo" {
		t.Fatalf("task: %+v", task)
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if code := getJSON(t, ts.URL+"/api/tasks/99", &envelope); code != http.StatusNotFound {
		t.Fatalf("missing task status %d", code)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error envelope: %+v", envelope)
	}
}

func TestMarket(t *testing.T) {
	ts := newTestServer(t)
	seed(t, ts.Ledger)

	var tasks []TaskResponse
	if code := getJSON(t, ts.URL+"/api/market", &tasks); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	// task 1 is claimed already, only task 2 remains open
	if len(tasks) != 1 || tasks[0].ID != 2 {
		t.Fatalf("market: %+v", tasks)
	}

	tasks = nil
	if code := getJSON(t, ts.URL+"/api/market?caller=B", &tasks); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(tasks) != 0 {
		t.Fatalf("market for B should exclude B's own open task: %+v", tasks)
	}
}

func TestPanelPage(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("panel status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("panel content type %q", ct)
	}
}

func TestOpenAPIServed(t *testing.T) {
	ts := newTestServer(t)
	var oas map[string]any
	if code := getJSON(t, ts.URL+"/api/openapi.json", &oas); code != http.StatusOK {
		t.Fatalf("openapi status %d", code)
	}
	if _, ok := oas["paths"]; !ok {
		t.Fatalf("openapi body: %v", oas)
	}
}
