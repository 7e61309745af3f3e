package api

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/orchestrator"
	"filetoolsgo/internal/runner"
	"filetoolsgo/internal/session"
	"filetoolsgo/internal/storage"
	"filetoolsgo/internal/transform"
	"filetoolsgo/internal/worker"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, command string, args []string, workingDir string) (string, string, error) {
	return "", "", nil
}

// testCatalog registers in-process operations so handler behavior can be
// exercised without any external binaries installed.
func testCatalog() map[string]*transform.Operation {
	copyRun := func(suffix string) transform.RunFunc {
		return func(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]transform.Output, map[string]interface{}, error) {
			var outs []transform.Output
			for _, in := range inputs {
				data, err := os.ReadFile(in.Path)
				if err != nil {
					return nil, nil, err
				}
				if strings.Contains(string(data), "FAIL") {
					return nil, nil, fmt.Errorf("simulated failure for %s", in.Name)
				}
				name := strings.TrimSuffix(in.Name, filepath.Ext(in.Name)) + suffix
				out := filepath.Join(outDir, name)
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return nil, nil, err
				}
				outs = append(outs, transform.Output{Name: name, Path: out})
			}
			return outs, nil, nil
		}
	}

	textSpec := func(min, max int) ingest.Spec {
		return ingest.Spec{AllowedTypes: []string{"text/"}, MinFiles: min, MaxFiles: max, MaxFileSize: 1 << 20}
	}

	ops := []*transform.Operation{
		{
			Name:   "fake/perfile",
			Class:  transform.PerFile,
			Ingest: textSpec(1, 5),
			Run:    copyRun("-done.txt"),
		},
		{
			Name:   "fake/batch",
			Class:  transform.Batch,
			Ingest: textSpec(2, 5),
			Run: func(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]transform.Output, map[string]interface{}, error) {
				var combined bytes.Buffer
				for _, in := range inputs {
					data, err := os.ReadFile(in.Path)
					if err != nil {
						return nil, nil, err
					}
					if strings.Contains(string(data), "FAIL") {
						return nil, nil, fmt.Errorf("simulated batch failure for %s", in.Name)
					}
					combined.Write(data)
				}
				out := filepath.Join(outDir, "combined.txt")
				if err := os.WriteFile(out, combined.Bytes(), 0o644); err != nil {
					return nil, nil, err
				}
				meta := map[string]interface{}{"pageCount": len(inputs)}
				return []transform.Output{{Name: "combined.txt", Path: out}}, meta, nil
			},
		},
		{
			Name:   "fake/opts",
			Class:  transform.PerFile,
			Ingest: textSpec(1, 5),
			Parse: func(form transform.Form) (interface{}, error) {
				mode := form.Get("mode")
				if mode == "" {
					return nil, models.Reject(models.MissingOption, "mode is required")
				}
				if mode != "a" && mode != "b" {
					return nil, models.Reject(models.InvalidOption, "mode must be a or b")
				}
				return mode, nil
			},
			Run: copyRun(".txt"),
		},
	}
	catalog := make(map[string]*transform.Operation, len(ops))
	for _, op := range ops {
		catalog[op.Name] = op
	}
	return catalog
}

type testServer struct {
	router   *gin.Engine
	db       *sql.DB
	baseDir  string
	sessions *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	baseDir := t.TempDir()
	fs := afero.NewOsFs()
	sessions := session.NewManager(db, fs, baseDir, 4*time.Minute)
	gate := ingest.NewGate(fs, baseDir)
	pool := worker.NewPool(1, 2, 4, time.Minute)
	orch := orchestrator.New(sessions, nopRunner{}, pool, fs)

	handler := NewHandler(gate, orch, sessions, testCatalog(), nil)
	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, db: db, baseDir: baseDir, sessions: sessions}
}

type upload struct {
	field   string
	name    string
	content []byte
}

func (s *testServer) doMultipart(t *testing.T, path string, uploads []upload, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, u := range uploads {
		fw, err := w.CreateFormFile(u.field, u.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(u.content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v (body %s)", err, data)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

type successBody struct {
	Success        bool      `json:"success"`
	DownloadURL    string    `json:"downloadUrl"`
	SessionID      string    `json:"sessionId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	FileName       string    `json:"fileName"`
	Size           int64     `json:"size"`
	ProcessedCount int       `json:"processedCount"`
	FailedCount    int       `json:"failedCount"`
	FailedFiles    []struct {
		FileName string `json:"fileName"`
		Reason   string `json:"reason"`
	} `json:"failedFiles"`
	PageCount int `json:"pageCount"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.get(t, "/healthz")
	assertStatus(t, rec, http.StatusOK)
}

func TestProcessAndDownloadSingleFile(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/perfile", []upload{
		{"files", "notes.txt", []byte("hello tools")},
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	var body successBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if !body.Success {
		t.Fatalf("expected success=true")
	}
	if body.FileName != "notes-done.txt" {
		t.Fatalf("unexpected file name %s", body.FileName)
	}
	if body.SessionID == "" || body.DownloadURL == "" {
		t.Fatalf("incomplete response: %+v", body)
	}
	if !body.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry %v not in the future", body.ExpiresAt)
	}
	if body.ProcessedCount != 1 {
		t.Fatalf("expected processedCount 1, got %d", body.ProcessedCount)
	}

	dl := s.get(t, body.DownloadURL)
	assertStatus(t, dl, http.StatusOK)
	if got := dl.Body.String(); got != "hello tools" {
		t.Fatalf("downloaded content mismatch: %q", got)
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
}

func TestProcessZipsMultipleOutputs(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/perfile", []upload{
		{"files", "a.txt", []byte("alpha")},
		{"files", "b.txt", []byte("beta")},
		{"files", "c.txt", []byte("gamma")},
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	var body successBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.FileName != "fake-perfile-results.zip" {
		t.Fatalf("expected zip artifact, got %s", body.FileName)
	}

	dl := s.get(t, body.DownloadURL)
	assertStatus(t, dl, http.StatusOK)
	zr, err := zip.NewReader(bytes.NewReader(dl.Body.Bytes()), int64(dl.Body.Len()))
	if err != nil {
		t.Fatalf("open downloaded archive: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("expected 3 archive entries, got %d", len(zr.File))
	}
	for i, want := range []string{"a-done.txt", "b-done.txt", "c-done.txt"} {
		if zr.File[i].Name != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, zr.File[i].Name)
		}
	}
}

func TestBatchOperationMergesAndReportsMeta(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/batch", []upload{
		{"files", "one.txt", []byte("AB")},
		{"files", "two.txt", []byte("CD")},
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	var body successBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.FileName != "combined.txt" {
		t.Fatalf("expected combined.txt, got %s", body.FileName)
	}
	if body.PageCount != 2 {
		t.Fatalf("expected pageCount 2, got %d", body.PageCount)
	}
	dl := s.get(t, body.DownloadURL)
	assertStatus(t, dl, http.StatusOK)
	if dl.Body.String() != "ABCD" {
		t.Fatalf("merged content mismatch: %q", dl.Body.String())
	}
}

func TestAdmissionRejections(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name    string
		path    string
		uploads []upload
		reason  string
	}{
		{"no file", "/api/fake/perfile", nil, "no_file_provided"},
		{"wrong type", "/api/fake/perfile", []upload{{"files", "pic.png", pngHeader}}, "unsupported_mime_type"},
		{"too few", "/api/fake/batch", []upload{{"files", "one.txt", []byte("x")}}, "too_few_files"},
		{"too many", "/api/fake/batch", []upload{
			{"files", "1.txt", []byte("x")}, {"files", "2.txt", []byte("x")},
			{"files", "3.txt", []byte("x")}, {"files", "4.txt", []byte("x")},
			{"files", "5.txt", []byte("x")}, {"files", "6.txt", []byte("x")},
		}, "too_many_files"},
	}
	for _, tc := range cases {
		rec := s.doMultipart(t, tc.path, tc.uploads, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", tc.name, rec.Code, rec.Body.String())
		}
		var body errorBody
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body.Success {
			t.Fatalf("%s: error response must carry success=false", tc.name)
		}
		if body.Reason != tc.reason {
			t.Fatalf("%s: expected reason %s, got %s", tc.name, tc.reason, body.Reason)
		}
	}
}

func TestOptionValidationHappensBeforeUpload(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/opts", []upload{
		{"files", "doc.txt", []byte("content")},
	}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	var body errorBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Reason != "missing_option" {
		t.Fatalf("expected missing_option, got %s", body.Reason)
	}
	// a rejected request must leave nothing in the holding area
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "incoming"))
	if err == nil && len(entries) != 0 {
		t.Fatalf("rejected request left %d holding files", len(entries))
	}
}

func TestPerFilePartialFailure(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/perfile", []upload{
		{"files", "good1.txt", []byte("ok")},
		{"files", "bad.txt", []byte("FAIL")},
		{"files", "good2.txt", []byte("ok")},
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	var body successBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.ProcessedCount != 2 {
		t.Fatalf("expected processedCount 2, got %d", body.ProcessedCount)
	}
	if body.FailedCount != 1 || len(body.FailedFiles) != 1 {
		t.Fatalf("expected one failure, got %+v", body)
	}
	if body.FailedFiles[0].FileName != "bad.txt" {
		t.Fatalf("unexpected failed file %s", body.FailedFiles[0].FileName)
	}
}

func TestAllFilesFailed(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/perfile", []upload{
		{"files", "a.txt", []byte("FAIL")},
		{"files", "b.txt", []byte("FAIL")},
	}, nil)
	assertStatus(t, rec, http.StatusInternalServerError)
	var body errorBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Success {
		t.Fatalf("expected success=false")
	}
	if body.Message != "all files failed to process" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestBatchFailureYieldsNothing(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/batch", []upload{
		{"files", "ok.txt", []byte("fine")},
		{"files", "bad.txt", []byte("FAIL")},
	}, nil)
	assertStatus(t, rec, http.StatusInternalServerError)

	// the whole request aborts: no holding leftovers, no session dirs
	if entries, err := os.ReadDir(filepath.Join(s.baseDir, "incoming")); err == nil && len(entries) != 0 {
		t.Fatalf("aborted batch left %d holding files", len(entries))
	}
	if dirs, err := os.ReadDir(filepath.Join(s.baseDir, "sessions")); err == nil && len(dirs) != 0 {
		t.Fatalf("aborted batch left %d session dirs", len(dirs))
	}
}

func TestDownloadUnknownArtifact(t *testing.T) {
	s := newTestServer(t)
	rec := s.get(t, "/downloads/no-such-session/whatever.pdf")
	assertStatus(t, rec, http.StatusNotFound)
	var body errorBody
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Success {
		t.Fatalf("expected success=false")
	}
}

func TestDownloadAfterExpiry(t *testing.T) {
	s := newTestServer(t)
	rec := s.doMultipart(t, "/api/fake/perfile", []upload{
		{"files", "notes.txt", []byte("ephemeral")},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	var body successBody
	decodeJSON(t, rec.Body.Bytes(), &body)

	// first download works
	assertStatus(t, s.get(t, body.DownloadURL), http.StatusOK)

	// push the session past its expiry; the link dies immediately, no sweep
	// needed
	past := time.Now().UTC().Add(-time.Minute)
	if _, err := s.db.Exec(`UPDATE sessions SET expires_at = ? WHERE id = ?`, past, body.SessionID); err != nil {
		t.Fatalf("expire session: %v", err)
	}
	dl := s.get(t, body.DownloadURL)
	assertStatus(t, dl, http.StatusNotFound)
}

func TestErrorDetailHiddenInReleaseMode(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	defer gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	respondError(c, http.StatusInternalServerError, "processing failed", fmt.Errorf("qpdf exploded"))

	var body map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if _, ok := body["error"]; ok {
		t.Fatalf("release mode must not leak diagnostic detail: %v", body)
	}
	if body["message"] != "processing failed" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}
