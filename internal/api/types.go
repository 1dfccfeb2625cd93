package api

import (
	"path"
	"strings"
	"time"
)

// Folder names the backend image store an image lives in.
type Folder string

const (
	FolderInput  Folder = "input"
	FolderOutput Folder = "output"
)

// JobStatus is the backend-reported state of a generation job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status ends polling.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Image describes one stored image on the backend.
type Image struct {
	Filename         string `json:"filename"`
	URL              string `json:"url,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	Path             string `json:"path,omitempty"`
	Size             int64  `json:"size,omitempty"`
	Created          string `json:"created,omitempty"`
}

var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// CreatedAt parses the backend timestamp. The backend emits naive ISO-8601
// values, which are interpreted as UTC.
func (i Image) CreatedAt() (time.Time, bool) {
	raw := strings.TrimSpace(i.Created)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range createdLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// imageList is the envelope returned by GET /images/{folder}.
type imageList struct {
	Images []Image `json:"images"`
}

// DeleteResponse is returned by the image delete endpoints.
type DeleteResponse struct {
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

// JobRequest is the execute payload.
type JobRequest struct {
	InputImages      []string `json:"input_images"`
	Instruction      string   `json:"instruction"`
	NumInferenceStep int      `json:"num_inference_step"`
	Height           int      `json:"height"`
	Width            int      `json:"width"`
	GuidanceScale    float64  `json:"guidance_scale"`
}

// JobHandle is returned by POST /execute.
type JobHandle struct {
	ProcessID      string    `json:"process_id"`
	Status         JobStatus `json:"status"`
	OutputFilename string    `json:"output_filename,omitempty"`
}

// StatusSnapshot is returned by GET /status/{id}.
type StatusSnapshot struct {
	ProcessID   string    `json:"process_id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	OutputImage string    `json:"output_image,omitempty"`
	OutputURL   string    `json:"output_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	Output      []string  `json:"output,omitempty"`
	StartTime   float64   `json:"start_time,omitempty"`
}

// OutputFilename returns the output image name, preferring output_image and
// falling back to the last segment of output_url.
func (s StatusSnapshot) OutputFilename() string {
	if name := strings.TrimSpace(s.OutputImage); name != "" {
		return name
	}
	if raw := strings.TrimSpace(s.OutputURL); raw != "" {
		return path.Base(raw)
	}
	return ""
}

// CancelResponse is returned by POST /cancel/{id}.
type CancelResponse struct {
	ProcessID string    `json:"process_id,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// ProgressFunc receives upload progress in bytes.
type ProgressFunc func(loaded, total int64)

// UploadFile is a single file handed to Upload.
type UploadFile struct {
	Name        string
	ContentType string
	Content     []byte
}
