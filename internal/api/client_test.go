package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"omniui/internal/api"
	"omniui/internal/apperrors"
	"omniui/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*api.Client, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Writer: &logs})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	client, err := api.NewClient(api.Options{BaseURL: srv.URL + "/api/", Logger: logger})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, &logs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRejectsInvalidBaseURL(t *testing.T) {
	for _, base := range []string{"ftp://example.com/api", "http://", "::bad"} {
		if _, err := api.NewClient(api.Options{BaseURL: base}); err == nil {
			t.Fatalf("expected error for base url %q", base)
		}
	}
}

func TestNewClientDefaultsBaseURL(t *testing.T) {
	client, err := api.NewClient(api.Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.BaseURL() != api.DefaultBaseURL {
		t.Fatalf("expected default base url, got %q", client.BaseURL())
	}
}

func TestImageURL(t *testing.T) {
	client, err := api.NewClient(api.Options{BaseURL: "http://backend:5000/api/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got := client.ImageURL(api.FolderOutput, "out.jpg")
	if got != "http://backend:5000/api/images/view/output/out.jpg" {
		t.Fatalf("unexpected image url %q", got)
	}
	if !strings.HasSuffix(got, "/out.jpg") {
		t.Fatalf("expected url to end with /out.jpg, got %q", got)
	}
	if escaped := client.ImageURL(api.FolderInput, "a b.png"); !strings.HasSuffix(escaped, "/input/a%20b.png") {
		t.Fatalf("expected escaped filename, got %q", escaped)
	}
}

func TestHealthSetsHeaders(t *testing.T) {
	var gotAccept, gotRequestID, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotRequestID = r.Header.Get(api.RequestIDHeader)
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": "2025-07-03T10:00:00"})
	}))

	resp, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if gotPath != "/api/health" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAccept != "application/json" {
		t.Fatalf("unexpected Accept header %q", gotAccept)
	}
	if gotRequestID == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestErrorNormalization(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantKind string
		wantPath string
	}{
		{
			name:     "message wins",
			status:   http.StatusBadRequest,
			body:     `{"error":"BadRequest","message":"Instruction is required","path":"/api/execute"}`,
			wantMsg:  "Instruction is required",
			wantKind: "BadRequest",
			wantPath: "/api/execute",
		},
		{
			name:     "error used as message",
			status:   http.StatusNotFound,
			body:     `{"error":"Process not found"}`,
			wantMsg:  "Process not found",
			wantKind: "Process not found",
		},
		{
			name:     "non json body",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantMsg:  api.DefaultErrorMessage,
			wantKind: "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, logs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := client.Status(context.Background(), "abc")
			var apiErr *api.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *api.Error, got %T: %v", err, err)
			}
			if apiErr.Status != tt.status {
				t.Fatalf("status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Fatalf("message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if apiErr.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", apiErr.Kind, tt.wantKind)
			}
			if apiErr.Path != tt.wantPath {
				t.Fatalf("path = %q, want %q", apiErr.Path, tt.wantPath)
			}
			if !errors.Is(err, apperrors.ErrTransport) {
				t.Fatal("expected transport classification")
			}
			if !strings.Contains(logs.String(), `"level":"error"`) || !strings.Contains(logs.String(), "API error") {
				t.Fatalf("expected error log line, got %s", logs.String())
			}
		})
	}
}

func TestUnreachableBackendIsStatus500(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/api"
	srv.Close()

	client, err := api.NewClient(api.Options{BaseURL: base, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Health(context.Background())
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.Error, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Message != api.DefaultErrorMessage {
		t.Fatalf("unexpected normalized error: %+v", apiErr)
	}
	if !api.IsUnreachable(err) {
		t.Fatalf("expected unreachable classification for %v", err)
	}
}

func TestTimeoutIsApplied(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := api.NewClient(api.Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Health(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestUploadSendsMultipartAndReportsProgress(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 4096)
	var gotName, gotType string
	var gotBody []byte
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(file)
		writeJSON(w, http.StatusOK, api.Image{Filename: "stored_cat.png", OriginalFilename: header.Filename, Size: int64(len(gotBody))})
	}))

	var last, total atomic.Int64
	var calls atomic.Int32
	img, err := client.Upload(context.Background(), api.UploadFile{Name: "cat.png", ContentType: "image/png", Content: content}, func(loaded, tot int64) {
		calls.Add(1)
		last.Store(loaded)
		total.Store(tot)
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if img.Filename != "stored_cat.png" || img.Size != int64(len(content)) {
		t.Fatalf("unexpected image %+v", img)
	}
	if gotName != "cat.png" || gotType != "image/png" {
		t.Fatalf("unexpected multipart part name=%q type=%q", gotName, gotType)
	}
	if !bytes.Equal(gotBody, content) {
		t.Fatal("uploaded content mismatch")
	}
	if calls.Load() == 0 || last.Load() != total.Load() || total.Load() <= int64(len(content)) {
		t.Fatalf("unexpected progress: calls=%d last=%d total=%d", calls.Load(), last.Load(), total.Load())
	}
}

func TestListImagesDecodesEnvelope(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"images":[{"filename":"1_a.png","original_filename":"a.png","path":"/api/images/view/input/1_a.png","size":1536,"created":"2025-07-03T10:00:00"}]}`)
	}))
	images, err := client.ListInputImages(context.Background())
	if err != nil {
		t.Fatalf("ListInputImages: %v", err)
	}
	if gotPath != "/api/images/input" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(images) != 1 || images[0].Filename != "1_a.png" || images[0].OriginalFilename != "a.png" || images[0].Size != 1536 {
		t.Fatalf("unexpected images %+v", images)
	}
}

func TestListImagesEmptyBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"images":[]}`)
	}))
	images, err := client.ListOutputImages(context.Background())
	if err != nil {
		t.Fatalf("ListOutputImages: %v", err)
	}
	if images == nil || len(images) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", images)
	}
}

func TestDeleteImageEscapesName(t *testing.T) {
	var gotPath, gotMethod string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotMethod = r.Method
		writeJSON(w, http.StatusOK, api.DeleteResponse{Message: "deleted"})
	}))
	if _, err := client.DeleteInputImage(context.Background(), "my cat.png"); err != nil {
		t.Fatalf("DeleteInputImage: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/images/input/my%20cat.png" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if _, err := client.DeleteInputImage(context.Background(), " "); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
}

func TestExecuteValidatesBeforeSending(t *testing.T) {
	var calls atomic.Int32
	client, logs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, api.JobHandle{ProcessID: "abc", Status: api.JobRunning})
	}))

	_, err := client.Execute(context.Background(), api.JobRequest{
		InputImages:      []string{"a.png"},
		Instruction:      "",
		NumInferenceStep: 50,
		Height:           1024,
		Width:            1024,
		GuidanceScale:    5,
	})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no network call, got %d", calls.Load())
	}
	if strings.Contains(logs.String(), "API error") {
		t.Fatal("validation failures must not be logged as transport errors")
	}
}

func TestExecuteAndStatus(t *testing.T) {
	var gotRequest api.JobRequest
	var gotContentType string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/execute", func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotRequest)
		writeJSON(w, http.StatusOK, api.JobHandle{ProcessID: "abc", Status: api.JobRunning, OutputFilename: "r.jpg"})
	})
	mux.HandleFunc("GET /api/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"process_id": r.PathValue("id"),
			"status":     "completed",
			"progress":   100,
			"output_url": "/api/images/view/output/r.jpg",
		})
	})
	client, _ := newTestClient(t, mux)

	req := api.JobRequest{
		InputImages:      []string{"a.png", "b.png"},
		Instruction:      "make it blue",
		NumInferenceStep: 30,
		Height:           512,
		Width:            768,
		GuidanceScale:    4.5,
	}
	handle, err := client.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if handle.ProcessID != "abc" || handle.OutputFilename != "r.jpg" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	if gotRequest.Instruction != req.Instruction || len(gotRequest.InputImages) != 2 || gotRequest.Width != 768 {
		t.Fatalf("unexpected request body %+v", gotRequest)
	}

	snap, err := client.Status(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Status != api.JobCompleted || !snap.Status.Terminal() {
		t.Fatalf("unexpected status %+v", snap)
	}
	if snap.OutputFilename() != "r.jpg" {
		t.Fatalf("unexpected output filename %q", snap.OutputFilename())
	}
}

func TestCancel(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, api.CancelResponse{ProcessID: "abc", Status: api.JobCancelled, Message: "Process cancelled"})
	}))
	resp, err := client.Cancel(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if gotPath != "/api/cancel/abc" || resp.Status != api.JobCancelled {
		t.Fatalf("unexpected cancel path=%q resp=%+v", gotPath, resp)
	}
}

func TestMessage(t *testing.T) {
	if got := api.Message(&api.Error{Status: 404, Message: "Process not found"}); got != "Process not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := api.Message(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := api.Message(nil); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
}

func TestImageCreatedAt(t *testing.T) {
	img := api.Image{Created: "2025-07-03T10:00:00.123456"}
	ts, ok := img.CreatedAt()
	if !ok {
		t.Fatal("expected timestamp to parse")
	}
	if ts.Year() != 2025 || ts.Month() != time.July || ts.Hour() != 10 {
		t.Fatalf("unexpected timestamp %v", ts)
	}
	if _, ok := (api.Image{}).CreatedAt(); ok {
		t.Fatal("expected empty timestamp to be rejected")
	}
}
