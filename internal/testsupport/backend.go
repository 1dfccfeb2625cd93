package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"omniui/internal/api"
)

// Route keys accepted by Backend.Fail and Backend.Calls.
const (
	RouteHealth       = "health"
	RouteUpload       = "upload"
	RouteListInput    = "images/input"
	RouteListOutput   = "images/output"
	RouteDeleteInput  = "delete/input"
	RouteDeleteOutput = "delete/output"
	RouteExecute      = "execute"
	RouteStatus       = "status"
	RouteCancel       = "cancel"
)

type failure struct {
	status int
	body   map[string]string
}

// Backend is a scripted in-memory image-generation backend served over
// httptest. Routes live under /api to match the production layout.
type Backend struct {
	server *httptest.Server

	mu          sync.Mutex
	inputs      []api.Image
	outputs     []api.Image
	statuses    map[string][]api.StatusSnapshot
	processIDs  []string
	nextID      int
	failures    map[string]failure
	calls       map[string]int
	executed    []api.JobRequest
	cancelled   []string
	uploadTypes []string
	executeGate chan struct{}
}

// NewBackend starts a fake backend that is shut down when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		statuses: make(map[string][]api.StatusSnapshot),
		failures: make(map[string]failure),
		calls:    make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", b.handleHealth)
		r.Post("/upload", b.handleUpload)
		r.Get("/images/input", b.handleList(RouteListInput, api.FolderInput))
		r.Get("/images/output", b.handleList(RouteListOutput, api.FolderOutput))
		r.Delete("/images/input/{filename}", b.handleDelete(RouteDeleteInput, api.FolderInput))
		r.Delete("/images/output/{filename}", b.handleDelete(RouteDeleteOutput, api.FolderOutput))
		r.Post("/execute", b.handleExecute)
		r.Get("/status/{id}", b.handleStatus)
		r.Post("/cancel/{id}", b.handleCancel)
	})

	b.server = httptest.NewServer(r)
	t.Cleanup(func() {
		b.mu.Lock()
		if b.executeGate != nil {
			close(b.executeGate)
			b.executeGate = nil
		}
		b.mu.Unlock()
		b.server.Close()
	})
	return b
}

// URL returns the API base URL, including the /api prefix.
func (b *Backend) URL() string {
	return b.server.URL + "/api"
}

// SetInputImages replaces the stored input images.
func (b *Backend) SetInputImages(images ...api.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = append([]api.Image(nil), images...)
}

// SetOutputImages replaces the stored output images.
func (b *Backend) SetOutputImages(images ...api.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = append([]api.Image(nil), images...)
}

// InputImages returns the stored input images.
func (b *Backend) InputImages() []api.Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Image(nil), b.inputs...)
}

// SetProcessIDs queues the handles returned by successive execute calls.
// Once exhausted, handles are generated as proc-N.
func (b *Backend) SetProcessIDs(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processIDs = append(b.processIDs, ids...)
}

// ScriptStatus queues status snapshots for id. Each poll consumes one
// snapshot; the last one repeats.
func (b *Backend) ScriptStatus(id string, snaps ...api.StatusSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range snaps {
		if snaps[i].ProcessID == "" {
			snaps[i].ProcessID = id
		}
	}
	b.statuses[id] = append(b.statuses[id], snaps...)
}

// Fail makes route answer with status and body until cleared with a zero
// status.
func (b *Backend) Fail(route string, status int, body map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, route)
		return
	}
	b.failures[route] = failure{status: status, body: body}
}

// HoldExecute blocks execute requests until the returned release func is
// called.
func (b *Backend) HoldExecute() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.executeGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.executeGate == gate {
				close(gate)
				b.executeGate = nil
			}
			b.mu.Unlock()
		})
	}
}

// Calls reports how many requests route has served, failures included.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// ExecuteRequests returns the decoded execute payloads in arrival order.
func (b *Backend) ExecuteRequests() []api.JobRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.JobRequest(nil), b.executed...)
}

// Cancelled returns the process IDs the backend was asked to cancel.
func (b *Backend) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// UploadContentTypes returns the declared part content types of uploads.
func (b *Backend) UploadContentTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.uploadTypes...)
}

func (b *Backend) begin(w http.ResponseWriter, route string) bool {
	b.mu.Lock()
	b.calls[route]++
	f, failing := b.failures[route]
	b.mu.Unlock()
	if failing {
		writeJSON(w, f.status, f.body)
		return false
	}
	return true
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, RouteHealth) {
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Timestamp: "2025-07-03T10:00:00"})
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, RouteUpload) {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file part"})
		return
	}
	defer file.Close()
	size, _ := io.Copy(io.Discard, file)

	b.mu.Lock()
	b.nextID++
	img := api.Image{
		Filename:         fmt.Sprintf("%d_%s", b.nextID, header.Filename),
		OriginalFilename: header.Filename,
		Size:             size,
		Created:          "2025-07-03T10:00:00",
	}
	img.Path = "/api/images/view/input/" + img.Filename
	img.URL = b.URL() + "/images/view/input/" + img.Filename
	b.inputs = append(b.inputs, img)
	b.uploadTypes = append(b.uploadTypes, header.Header.Get("Content-Type"))
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, img)
}

func (b *Backend) handleList(route string, folder api.Folder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.begin(w, route) {
			return
		}
		b.mu.Lock()
		images := b.inputs
		if folder == api.FolderOutput {
			images = b.outputs
		}
		out := append([]api.Image{}, images...)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"images": out})
	}
}

func (b *Backend) handleDelete(route string, folder api.Folder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.begin(w, route) {
			return
		}
		name := chi.URLParam(r, "filename")
		b.mu.Lock()
		images := &b.inputs
		if folder == api.FolderOutput {
			images = &b.outputs
		}
		found := false
		kept := (*images)[:0]
		for _, img := range *images {
			if img.Filename == name {
				found = true
				continue
			}
			kept = append(kept, img)
		}
		*images = kept
		b.mu.Unlock()

		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
			return
		}
		writeJSON(w, http.StatusOK, api.DeleteResponse{Filename: name, Message: "File deleted"})
	}
}

func (b *Backend) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, RouteExecute) {
		return
	}
	var req api.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	b.mu.Lock()
	b.executed = append(b.executed, req)
	gate := b.executeGate
	var id string
	if len(b.processIDs) > 0 {
		id = b.processIDs[0]
		b.processIDs = b.processIDs[1:]
	} else {
		b.nextID++
		id = fmt.Sprintf("proc-%d", b.nextID)
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, api.JobHandle{ProcessID: id, Status: api.JobRunning, OutputFilename: id + ".jpg"})
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, RouteStatus) {
		return
	}
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	script := b.statuses[id]
	if len(script) == 0 {
		b.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Process not found"})
		return
	}
	snap := script[0]
	if len(script) > 1 {
		b.statuses[id] = script[1:]
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, snap)
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, RouteCancel) {
		return
	}
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	b.cancelled = append(b.cancelled, id)
	b.statuses[id] = []api.StatusSnapshot{{ProcessID: id, Status: api.JobCancelled}}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, api.CancelResponse{ProcessID: id, Status: api.JobCancelled, Message: "Process cancelled"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Client returns an api.Client pointed at the backend with logging discarded.
func (b *Backend) Client(t testing.TB) *api.Client {
	t.Helper()
	client, err := api.NewClient(api.Options{BaseURL: b.URL()})
	if err != nil {
		t.Fatalf("api.NewClient: %v", err)
	}
	return client
}
