package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"omniui/internal/apperrors"
	"omniui/internal/config"
	"omniui/internal/logging"
)

const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://localhost:5000/api"
	// DefaultTimeout bounds every request.
	DefaultTimeout = 30 * time.Second
	// RequestIDHeader carries the per-request correlation identifier.
	RequestIDHeader = "X-Request-ID"
)

// HTTPDoer is the subset of *http.Client used by Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Logger     *slog.Logger
}

// Client talks to the image-generation backend.
type Client struct {
	baseURL string
	timeout time.Duration
	http    HTTPDoer
	logger  *slog.Logger
}

// NewClient validates the base URL and constructs a Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", base)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url %q is missing a host", base)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	doer := opts.HTTPClient
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		timeout: timeout,
		http:    doer,
		logger:  logging.NewComponentLogger(opts.Logger, "api"),
	}, nil
}

// NewFromConfig builds a Client from loaded configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return NewClient(Options{Logger: logger})
	}
	return NewClient(Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.RequestTimeout(),
		Logger:  logger,
	})
}

// BaseURL returns the normalized backend address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ImageURL returns the backend URL serving filename from folder.
func (c *Client) ImageURL(folder Folder, filename string) string {
	return c.endpoint("images", "view", string(folder), filename)
}

// Health checks backend liveness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, []string{"health"}, nil, &out)
	return out, err
}

// Upload streams one image to the backend as multipart field "file".
// progress, when set, receives (loaded, total) as the body is sent.
func (c *Client) Upload(ctx context.Context, file UploadFile, progress ProgressFunc) (Image, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	contentType := strings.TrimSpace(file.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return Image{}, apperrors.Wrap(apperrors.ErrValidation, "api", "upload", "build multipart body", err)
	}
	if _, err := part.Write(file.Content); err != nil {
		return Image{}, apperrors.Wrap(apperrors.ErrValidation, "api", "upload", "build multipart body", err)
	}
	if err := writer.Close(); err != nil {
		return Image{}, apperrors.Wrap(apperrors.ErrValidation, "api", "upload", "build multipart body", err)
	}

	total := int64(buf.Len())
	body := &payload{
		reader:      newProgressReader(bytes.NewReader(buf.Bytes()), total, progress),
		contentType: writer.FormDataContentType(),
		length:      total,
	}
	var out Image
	err = c.do(ctx, http.MethodPost, []string{"upload"}, body, &out)
	return out, err
}

// ListInputImages lists uploaded input images.
func (c *Client) ListInputImages(ctx context.Context) ([]Image, error) {
	return c.listImages(ctx, FolderInput)
}

// ListOutputImages lists generated output images.
func (c *Client) ListOutputImages(ctx context.Context) ([]Image, error) {
	return c.listImages(ctx, FolderOutput)
}

func (c *Client) listImages(ctx context.Context, folder Folder) ([]Image, error) {
	var out imageList
	if err := c.do(ctx, http.MethodGet, []string{"images", string(folder)}, nil, &out); err != nil {
		return nil, err
	}
	if out.Images == nil {
		return []Image{}, nil
	}
	return out.Images, nil
}

// DeleteInputImage removes an uploaded input image.
func (c *Client) DeleteInputImage(ctx context.Context, filename string) (DeleteResponse, error) {
	return c.deleteImage(ctx, FolderInput, filename)
}

// DeleteOutputImage removes a generated output image.
func (c *Client) DeleteOutputImage(ctx context.Context, filename string) (DeleteResponse, error) {
	return c.deleteImage(ctx, FolderOutput, filename)
}

func (c *Client) deleteImage(ctx context.Context, folder Folder, filename string) (DeleteResponse, error) {
	if strings.TrimSpace(filename) == "" {
		return DeleteResponse{}, apperrors.Wrap(apperrors.ErrValidation, "api", "delete image", "filename is required", nil)
	}
	var out DeleteResponse
	err := c.do(ctx, http.MethodDelete, []string{"images", string(folder), filename}, nil, &out)
	return out, err
}

// Execute submits a generation job. The payload is checked against the
// backend contract first; a mismatch returns a validation error without a
// network call.
func (c *Client) Execute(ctx context.Context, req JobRequest) (JobHandle, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return JobHandle{}, apperrors.Wrap(apperrors.ErrValidation, "api", "execute", "encode request", err)
	}
	if err := ValidateJobPayload(data); err != nil {
		return JobHandle{}, apperrors.Wrap(apperrors.ErrValidation, "api", "execute", "invalid job request", err)
	}
	var out JobHandle
	err = c.do(ctx, http.MethodPost, []string{"execute"}, jsonPayload(data), &out)
	return out, err
}

// Status fetches the current snapshot of a job.
func (c *Client) Status(ctx context.Context, processID string) (StatusSnapshot, error) {
	if strings.TrimSpace(processID) == "" {
		return StatusSnapshot{}, apperrors.Wrap(apperrors.ErrValidation, "api", "status", "process id is required", nil)
	}
	var out StatusSnapshot
	err := c.do(ctx, http.MethodGet, []string{"status", processID}, nil, &out)
	return out, err
}

// Cancel asks the backend to stop a job.
func (c *Client) Cancel(ctx context.Context, processID string) (CancelResponse, error) {
	if strings.TrimSpace(processID) == "" {
		return CancelResponse{}, apperrors.Wrap(apperrors.ErrValidation, "api", "cancel", "process id is required", nil)
	}
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, []string{"cancel", processID}, jsonPayload([]byte("{}")), &out)
	return out, err
}

type payload struct {
	reader      io.Reader
	contentType string
	length      int64
}

func jsonPayload(data []byte) *payload {
	return &payload{reader: bytes.NewReader(data), contentType: "application/json", length: int64(len(data))}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, c.baseURL)
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method string, segments []string, body *payload, out any) error {
	endpoint := c.endpoint(segments...)
	requestPath := "/" + strings.Join(segments, "/")
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = body.reader
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return c.fail(ctx, method, requestPath, transportError(err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
		req.ContentLength = body.length
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(ctx, method, requestPath, transportError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.fail(ctx, method, requestPath, responseError(resp))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		decodeErr := normalize(resp.StatusCode, errorBody{})
		decodeErr.Err = fmt.Errorf("decode response: %w", err)
		return c.fail(ctx, method, requestPath, decodeErr)
	}
	return nil
}

func (c *Client) fail(ctx context.Context, method, requestPath string, apiErr *Error) error {
	attrs := []logging.Attr{
		logging.String("method", method),
		logging.String("endpoint", requestPath),
		logging.Int("status", apiErr.Status),
		logging.String("message", apiErr.Message),
		logging.String("error_kind", apiErr.Kind),
	}
	if apiErr.Path != "" {
		attrs = append(attrs, logging.String("path", apiErr.Path))
	}
	if apiErr.Err != nil {
		attrs = append(attrs, logging.Error(apiErr.Err))
	}
	logging.ErrorWithContext(ctx, c.logger, "API error", "api_request_failed", attrs...)
	return apiErr
}
