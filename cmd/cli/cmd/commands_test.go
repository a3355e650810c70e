package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/engine"
	"github.com/whbench/whbench/internal/export"
	"github.com/whbench/whbench/internal/metrics"
	"github.com/whbench/whbench/internal/warehouse"
)

// fakeWorkspace serves the warehouse and query history endpoints.
type fakeWorkspace struct {
	t       *testing.T
	queries []string

	mu         sync.Mutex
	warehouses []warehouse.Warehouse
	created    []warehouse.CreateRequest
	started    []string
	stopped    []string
	auth       []string
	gone       map[string]bool
}

func (f *fakeWorkspace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	const base = "/api/2.0/sql/warehouses"
	switch {
	case r.URL.Path == base && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"warehouses": f.warehouses})
	case r.URL.Path == base && r.Method == http.MethodPost:
		var req warehouse.CreateRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.created = append(f.created, req)
		id := fmt.Sprintf("wh-new-%d", len(f.created))
		f.warehouses = append(f.warehouses, warehouse.Warehouse{ID: id, Name: req.Name, State: warehouse.StateStarting})
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	case strings.HasSuffix(r.URL.Path, "/start"):
		f.started = append(f.started, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, base+"/"), "/start"))
		w.Write([]byte("{}"))
	case strings.HasSuffix(r.URL.Path, "/stop"):
		f.stopped = append(f.stopped, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, base+"/"), "/stop"))
		w.Write([]byte("{}"))
	case strings.HasPrefix(r.URL.Path, base+"/"):
		id := strings.TrimPrefix(r.URL.Path, base+"/")
		for _, wh := range f.warehouses {
			if wh.ID == id && !f.gone[id] {
				wh.State = warehouse.StateRunning
				wh.NumClusters = 1
				json.NewEncoder(w).Encode(wh)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"no such warehouse"}`))
	case r.URL.Path == "/api/2.0/sql/history/queries":
		var req struct {
			FilterBy struct {
				WarehouseIDs []string `json:"warehouse_ids"`
			} `json:"filter_by"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		id := ""
		if len(req.FilterBy.WarehouseIDs) > 0 {
			id = req.FilterBy.WarehouseIDs[0]
		}
		var res []map[string]any
		for i, q := range f.queries {
			res = append(res, map[string]any{
				"query_id":     fmt.Sprintf("%s-h%d", id, i+1),
				"query_text":   q,
				"status":       "FINISHED",
				"warehouse_id": id,
				"metrics":      map[string]any{"total_time_ms": 100 * (i + 1), "execution_time_ms": 90 * (i + 1)},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"res": res})
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeWorkspace) snapshot() (created []warehouse.CreateRequest, started, stopped []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]warehouse.CreateRequest(nil), f.created...), append([]string(nil), f.started...), append([]string(nil), f.stopped...)
}

type fakeSession struct{}

func (fakeSession) Exec(context.Context, string) (int64, error) { return 1, nil }

func (fakeSession) Close() error { return nil }

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

type testEnv struct {
	ws      *fakeWorkspace
	srv     *httptest.Server
	repo    *database.MockRepo
	s3      *fakeS3
	queries string
	dir     string
}

// setupTestEnv points the CLI at a fake workspace, an in-memory store and a
// fake S3 client.
func setupTestEnv(t *testing.T, existing ...warehouse.Warehouse) *testEnv {
	t.Helper()
	dir := t.TempDir()
	queries := filepath.Join(dir, "queries.sql")
	if err := os.WriteFile(queries, []byte("select 1;\nselect 2;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		ws:      &fakeWorkspace{t: t, queries: []string{"select 1", "select 2"}, warehouses: existing},
		repo:    database.NewMockRepo(),
		s3:      &fakeS3{},
		queries: queries,
		dir:     dir,
	}
	env.srv = httptest.NewServer(env.ws)
	t.Cleanup(env.srv.Close)

	t.Setenv("WHBENCH_TOKEN", "dapi-test")
	t.Setenv("DATABRICKS_TOKEN", "")
	t.Setenv("DATABRICKS_HOST", "")

	oldSession, oldStore, oldS3, oldOpts, oldToken := openSession, openStore, newS3Client, clientOpts, fetchToken
	t.Cleanup(func() {
		openSession, openStore, newS3Client, clientOpts, fetchToken = oldSession, oldStore, oldS3, oldOpts, oldToken
		for _, rf := range runFlags {
			_ = runCmd.Flags().Set(rf.name, fmt.Sprint(rf.def))
		}
	})
	openSession = func(context.Context, engine.SessionConfig) (engine.Session, error) { return fakeSession{}, nil }
	openStore = func(context.Context, string) (database.Repo, func(), error) { return env.repo, func() {}, nil }
	newS3Client = func(context.Context, string) (export.PutObjectAPI, error) { return env.s3, nil }
	clientOpts = []warehouse.Option{
		warehouse.WithPolling(time.Millisecond, time.Second),
		warehouse.WithRetry(1, time.Millisecond),
	}
	return env
}

// runArgs resets every run flag so values from earlier tests do not leak.
func (e *testEnv) runArgs(extra ...string) []string {
	args := []string{
		"run",
		"--host", e.srv.URL,
		"--log-level", "error",
		"--store-dsn=",
		"--choice", "one-warehouse",
		"--prefix", "demo",
		"--type", "serverless",
		"--size", "Small",
		"--queries", e.queries,
		"--repetitions", "1",
		"--concurrency", "1",
		"--on-lookup-error", "fail",
		"--chart-file=",
		"--s3-uri=",
		"--prom-textfile=",
		"--token-secret-id=",
		"-o", "json",
	}
	return append(args, extra...)
}

func captureOutput(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	RootCmd.SetOut(&buf)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	RootCmd.SetOut(nil)
	RootCmd.SetErr(nil)
	RootCmd.SetArgs(nil)
	return buf.String(), err
}

func decodeReport(t *testing.T, out string) runReport {
	t.Helper()
	var report runReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	return report
}

func TestRunCommand_ExistingWarehouse(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-1", Name: "demo serverless Small", State: warehouse.StateStopped})

	out, err := captureOutput(t, env.runArgs()...)
	if err != nil {
		t.Fatal(err)
	}
	report := decodeReport(t, out)
	if len(report.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(report.Runs))
	}
	r := report.Runs[0]
	if r.WarehouseID != "wh-1" || r.Created {
		t.Errorf("run = %+v, want existing warehouse wh-1", r)
	}
	if r.Rows != 2 {
		t.Errorf("expected 2 joined rows, got %d", r.Rows)
	}
	if len(report.Summaries) != 1 || report.Summaries[0].Queries != 2 {
		t.Errorf("summaries = %+v", report.Summaries)
	}
	if len(report.Means) != 2 {
		t.Errorf("expected 2 group means, got %d", len(report.Means))
	}

	created, started, stopped := env.ws.snapshot()
	if len(created) != 0 {
		t.Errorf("expected no warehouse created, got %d", len(created))
	}
	if len(started) != 1 || started[0] != "wh-1" {
		t.Errorf("started = %v", started)
	}
	if len(stopped) != 1 || stopped[0] != "wh-1" {
		t.Errorf("stopped = %v", stopped)
	}
}

func TestRunCommand_TypeVariation(t *testing.T) {
	env := setupTestEnv(t)

	out, err := captureOutput(t, env.runArgs("--choice", "multiple-warehouses", "--store-dsn", "postgres://fake")...)
	if err != nil {
		t.Fatal(err)
	}
	report := decodeReport(t, out)
	if len(report.Runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(report.Runs))
	}
	for i, want := range []string{"demo serverless Small", "demo pro Small", "demo classic Small"} {
		if report.Runs[i].Warehouse != want {
			t.Errorf("run %d warehouse = %q, want %q", i, report.Runs[i].Warehouse, want)
		}
		if !report.Runs[i].Created {
			t.Errorf("run %d should have created its warehouse", i)
		}
		if got := env.repo.GetRunStatus(report.Runs[i].RunID); got != database.StatusCompleted {
			t.Errorf("run %d stored status = %q", i, got)
		}
	}
	if len(report.Summaries) != 3 {
		t.Errorf("expected 3 summaries, got %d", len(report.Summaries))
	}

	created, started, stopped := env.ws.snapshot()
	if len(created) != 3 {
		t.Errorf("expected 3 warehouses created, got %d", len(created))
	}
	if len(started) != 0 {
		t.Errorf("created warehouses should not be started explicitly, got %v", started)
	}
	if len(stopped) != 3 {
		t.Errorf("expected 3 warehouses stopped, got %v", stopped)
	}
}

func TestRunCommand_WarehouseNeverRuns(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "ghost", Name: "demo pro Small"})
	// Listed, but deleted before it could start.
	env.ws.gone = map[string]bool{"ghost": true}

	_, err := captureOutput(t, env.runArgs("--type", "pro")...)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), `warehouse "demo pro Small"`) {
		t.Errorf("error should name the warehouse: %v", err)
	}
	_, _, stopped := env.ws.snapshot()
	if len(stopped) != 1 || stopped[0] != "ghost" {
		t.Errorf("warehouse should still be stopped, got %v", stopped)
	}
}

func TestRunCommand_Table(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-1", Name: "demo serverless Small"})

	out, err := captureOutput(t, env.runArgs("-o", "table")...)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"demo serverless Small", "Mean ms", "Query Metrics by Warehouse", "q1", "q2"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRunCommand_Artifacts(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-1", Name: "demo serverless Small"})
	chartFile := filepath.Join(env.dir, "chart.html")
	promFile := filepath.Join(env.dir, "whbench.prom")

	out, err := captureOutput(t, env.runArgs(
		"--chart-file", chartFile,
		"--prom-textfile", promFile,
		"--s3-uri", "s3://bench-results/whbench",
	)...)
	if err != nil {
		t.Fatal(err)
	}
	report := decodeReport(t, out)

	html, err := os.ReadFile(chartFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "Query Metrics by Warehouse") {
		t.Error("chart file is missing its title")
	}
	prom, err := os.ReadFile(promFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prom), "whbench_query_total_time_ms") {
		t.Errorf("unexpected textfile:\n%s", prom)
	}

	short := report.Runs[0].RunID[:8]
	prefix := "bench-results/whbench/" + short + "/"
	want := []string{
		prefix + "combined.csv", prefix + "combined.json", prefix + "chart.html",
		prefix + "raw/" + short + "/records.json", prefix + "raw/" + short + "/history.json",
	}
	if strings.Join(env.s3.keys, ",") != strings.Join(want, ",") {
		t.Errorf("uploaded %v, want %v", env.s3.keys, want)
	}
}

func TestRunCommand_TokenFromSecret(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-1", Name: "demo serverless Small"})
	t.Setenv("WHBENCH_TOKEN", "")
	var asked string
	fetchToken = func(_ context.Context, _, secretID string) (string, error) {
		asked = secretID
		return "dapi-secret", nil
	}

	if _, err := captureOutput(t, env.runArgs("--token-secret-id", "whbench/token")...); err != nil {
		t.Fatal(err)
	}
	if asked != "whbench/token" {
		t.Errorf("fetched secret %q", asked)
	}
	env.ws.mu.Lock()
	defer env.ws.mu.Unlock()
	for _, a := range env.ws.auth {
		if a != "Bearer dapi-secret" {
			t.Fatalf("request sent with %q", a)
		}
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	env := setupTestEnv(t)
	if _, err := captureOutput(t, env.runArgs("--concurrency", "0")...); err == nil {
		t.Fatal("expected validation error")
	}
	if created, _, _ := env.ws.snapshot(); len(created) != 0 {
		t.Error("no warehouse should be touched on invalid config")
	}
}

func TestRunCommand_DuplicateSizes(t *testing.T) {
	env := setupTestEnv(t)
	_, err := captureOutput(t, env.runArgs("--choice", "multiple-warehouses-size", "--type", "pro", "--size", "Small,small")...)
	if err == nil || !strings.Contains(err.Error(), "listed more than once") {
		t.Fatalf("expected duplicate size error, got %v", err)
	}
	if created, started, _ := env.ws.snapshot(); len(created) != 0 || len(started) != 0 {
		t.Error("no warehouse should be touched for a duplicate size list")
	}
}

func TestWarehousesList(t *testing.T) {
	env := setupTestEnv(t,
		warehouse.Warehouse{ID: "wh-2", Name: "zeta", State: warehouse.StateStopped, ClusterSize: "Small"},
		warehouse.Warehouse{ID: "wh-1", Name: "alpha", State: warehouse.StateRunning, ClusterSize: "Large"},
	)

	out, err := captureOutput(t, "warehouses", "list", "--host", env.srv.URL, "-o", "table")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
		t.Errorf("expected warehouses sorted by name:\n%s", out)
	}

	out, err = captureOutput(t, "warehouses", "list", "--host", env.srv.URL, "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var list []warehouse.Warehouse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "wh-1" {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestWarehousesResolve(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-9", Name: "demo pro Small"})

	out, err := captureOutput(t, "warehouses", "resolve", "demo pro Small", "--host", env.srv.URL, "-o", "table")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "wh-9" {
		t.Errorf("resolve = %q, want wh-9", out)
	}

	if _, err := captureOutput(t, "warehouses", "resolve", "demo PRO small", "--host", env.srv.URL); err == nil {
		t.Error("names should match exactly")
	}
}

func TestRunsCommands(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-1", Name: "demo serverless Small"})
	out, err := captureOutput(t, env.runArgs("--store-dsn", "postgres://fake")...)
	if err != nil {
		t.Fatal(err)
	}
	runID := decodeReport(t, out).Runs[0].RunID

	out, err = captureOutput(t, "runs", "list", "--store-dsn", "postgres://fake", "--status", "completed", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var runs []database.BenchmarkRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Fatalf("runs = %+v", runs)
	}

	out, err = captureOutput(t, "runs", "show", runID, "--store-dsn", "postgres://fake", "-o", "table")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{runID, "wh-1", "select 2", "completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in show output:\n%s", want, out)
		}
	}

	out, err = captureOutput(t, "runs", "delete", runID, "--store-dsn", "postgres://fake")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Deleted run") {
		t.Errorf("unexpected delete output: %s", out)
	}
	if _, err := captureOutput(t, "runs", "show", runID, "--store-dsn", "postgres://fake"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestRunsCommand_NoStore(t *testing.T) {
	setupTestEnv(t)
	_, err := captureOutput(t, "runs", "list", "--store-dsn=")
	if err == nil || !strings.Contains(err.Error(), "no results store configured") {
		t.Errorf("expected missing store error, got %v", err)
	}
}

func TestExportCommand(t *testing.T) {
	env := setupTestEnv(t, warehouse.Warehouse{ID: "wh-1", Name: "demo serverless Small"})
	out, err := captureOutput(t, env.runArgs("--store-dsn", "postgres://fake")...)
	if err != nil {
		t.Fatal(err)
	}
	runID := decodeReport(t, out).Runs[0].RunID

	out, err = captureOutput(t, "export", runID, "--store-dsn", "postgres://fake", "--file=", "--s3-uri=", "-o", "csv")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "id,warehouse_name,query_id,total_time_ms") {
		t.Errorf("unexpected header: %s", lines[0])
	}

	file := filepath.Join(env.dir, "export.json")
	if _, err := captureOutput(t, "export", runID, "--store-dsn", "postgres://fake", "--file", file, "--s3-uri=", "-o", "json"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := export.DecodeCombined(file, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1].TotalTimeMs != 200 {
		t.Errorf("unexpected exported rows: %+v", rows)
	}

	out, err = captureOutput(t, "export", runID, "--store-dsn", "postgres://fake", "--file=", "--s3-uri", "s3://bucket/exports")
	if err != nil {
		t.Fatal(err)
	}
	if len(env.s3.keys) != 2 || env.s3.keys[0] != "bucket/exports/"+runID+"/combined.csv" {
		t.Errorf("uploaded %v", env.s3.keys)
	}
	if !strings.Contains(out, "s3://bucket/exports/"+runID+"/combined.json") {
		t.Errorf("expected object URIs in output:\n%s", out)
	}
}

func TestExportCommand_UnknownRun(t *testing.T) {
	setupTestEnv(t)
	if _, err := captureOutput(t, "export", "missing", "--store-dsn", "postgres://fake", "--file=", "--s3-uri="); err == nil {
		t.Error("expected not found error")
	}
}

func TestChartCommand(t *testing.T) {
	dir := t.TempDir()
	rows := []metrics.CombinedRow{
		{ID: "q1", WarehouseName: "demo pro Small", Query: "select 1", TotalTimeMs: 100},
		{ID: "q1", WarehouseName: "demo pro Small", Query: "select 1", TotalTimeMs: 300},
		{ID: "q2", WarehouseName: "demo serverless Small", Query: "select 2", TotalTimeMs: 50},
	}
	data, err := json.Marshal(rows)
	if err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(dir, "combined.json")
	if err := os.WriteFile(input, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := captureOutput(t, "chart", "--input", input, "--html=")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"demo pro Small", "demo serverless Small", "200.0", "50.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in chart:\n%s", want, out)
		}
	}

	html := filepath.Join(dir, "chart.html")
	if _, err := captureOutput(t, "chart", "--input", input, "--html", html); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(html); err != nil {
		t.Errorf("chart not written: %v", err)
	}
}

func TestChartCommand_YAMLInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "combined.yaml")
	doc := "- id: q1\n  warehouse_name: demo pro Small\n  query: select 1\n  query_id: h1\n  total_time_ms: 42\n"
	if err := os.WriteFile(input, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := captureOutput(t, "chart", "--input", input, "--html=")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "42.0") {
		t.Errorf("expected mean 42.0 in chart:\n%s", out)
	}
}
