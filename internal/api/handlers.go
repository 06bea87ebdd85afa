package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BanarasDigital/marketingbackend/internal/auth"
	"github.com/BanarasDigital/marketingbackend/internal/config"
	"github.com/BanarasDigital/marketingbackend/internal/ingest"
	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

var tracer = otel.Tracer("media-api")

// Configuration constants
const (
	PresignedURLExpiration = 10 * time.Minute
	MaxFilenameLength      = 255
	MaxRequestBodySize     = 1 << 20 // 1 MB
	DefaultListLimit       = 50
	MaxListLimit           = 100
)

// Stager streams request parts to local disk.
type Stager interface {
	Stage(ctx context.Context, r io.Reader, originalName string) (string, int64, error)
	Release(ctx context.Context, path string)
}

// Processor runs staged files through the pipeline.
type Processor interface {
	Process(ctx context.Context, files []models.UploadedFile) []models.UploadResult
}

// MediaStore persists and reads upload records.
type MediaStore interface {
	SaveResult(ctx context.Context, mediaID, folder string, result models.UploadResult) (*models.MediaRecord, error)
	GetMedia(ctx context.Context, mediaID string) (*models.MediaRecord, error)
	GetLatestVideo(ctx context.Context) (*models.MediaRecord, error)
	ListByFolder(ctx context.Context, folder string, limit int32, startKey map[string]types.AttributeValue) ([]models.MediaRecord, map[string]types.AttributeValue, error)
}

// URLPresigner issues direct-upload URLs.
type URLPresigner interface {
	PresignPut(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error)
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg          *config.Config
	log          *slog.Logger
	stager       Stager
	processor    Processor
	rawProcessor Processor
	media        MediaStore
	presigner    URLPresigner
	jwtService   *auth.JWTService
	rateLimiter  *auth.RateLimiter
}

// HandlersConfig holds dependencies for handlers. Media and Presigner are
// optional; the routes that need them answer 503 without them.
type HandlersConfig struct {
	Config       *config.Config
	Logger       *slog.Logger
	Stager       Stager
	Processor    Processor
	RawProcessor Processor
	Media        MediaStore
	Presigner    URLPresigner
	JWTService   *auth.JWTService
	RateLimiter  *auth.RateLimiter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:          cfg.Config,
		log:          cfg.Logger,
		stager:       cfg.Stager,
		processor:    cfg.Processor,
		rawProcessor: cfg.RawProcessor,
		media:        cfg.Media,
		presigner:    cfg.Presigner,
		jwtService:   cfg.JWTService,
		rateLimiter:  cfg.RateLimiter,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(ctx, h.log, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	h.writeJSON(ctx, w, status, resp)
}

// LoginHandler exchanges basic-auth credentials for a JWT.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := auth.GetClientIP(r)

	if h.rateLimiter != nil && h.rateLimiter.IsLimited(clientIP) {
		metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
		h.writeError(ctx, w, http.StatusTooManyRequests, "Too many failed attempts", nil)
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials", nil)
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		logger.Error(ctx, h.log, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error", nil)
		return
	}

	if username != expectedUsername || password != expectedPassword {
		if h.rateLimiter != nil {
			h.rateLimiter.RecordFailure(clientIP)
		}
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		logger.Warn(ctx, h.log, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		logger.Error(ctx, h.log, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token", nil)
		return
	}

	if h.rateLimiter != nil {
		h.rateLimiter.Reset(clientIP)
	}
	logger.Info(ctx, h.log, "Successful login", "username", username, "ip", clientIP)
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "token": token})
}

// UploadResponse lists one result per uploaded file, in request order.
type UploadResponse struct {
	Success bool                  `json:"success"`
	Uploads []models.UploadResult `json:"uploads"`
}

// UploadHandler stores every file part and transcodes videos.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, h.processor, "transcode")
}

// RawUploadHandler stores every file part once, videos included.
func (h *Handlers) RawUploadHandler(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, h.rawProcessor, "raw")
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request, proc Processor, mode string) {
	requestID := uuid.NewString()
	ctx, span := tracer.Start(r.Context(), "upload-handler",
		trace.WithAttributes(
			attribute.String("upload.mode", mode),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	if proc == nil {
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Uploads are not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.API.MaxUploadSize)

	files, err := h.stageParts(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "staging failed")
		metrics.UploadRequests.WithLabelValues("rejected").Inc()

		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Upload too large", err)
		case errors.Is(err, models.ErrNoFiles):
			h.writeError(ctx, w, http.StatusBadRequest, "Expected a multipart/form-data body", err)
		default:
			logger.Error(ctx, h.log, "Upload process failed", "requestId", requestID, "error", err)
			h.writeError(ctx, w, http.StatusInternalServerError, "Upload process failed", err)
		}
		return
	}

	span.SetAttributes(attribute.Int("upload.files", len(files)))
	logger.Info(ctx, h.log, "Processing upload", "requestId", requestID, "files", len(files), "mode", mode)

	// A disconnecting client must not abort transcodes or orphan staged files.
	procCtx := context.WithoutCancel(ctx)
	results := proc.Process(procCtx, files)
	h.persist(procCtx, results)

	failed := 0
	for _, res := range results {
		if res.Error {
			failed++
		}
	}
	outcome := "success"
	if failed > 0 {
		outcome = "partial"
	}
	metrics.UploadRequests.WithLabelValues(outcome).Inc()

	logger.Info(ctx, h.log, "Upload processed",
		"requestId", requestID,
		"files", len(results),
		"failed", failed,
	)

	h.writeJSON(ctx, w, http.StatusOK, UploadResponse{Success: true, Uploads: results})
}

// stageParts streams every file part of a multipart body into staging.
// Non-file fields are skipped. On error every file staged so far is released.
func (h *Handlers) stageParts(ctx context.Context, r *http.Request) (files []models.UploadedFile, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrNoFiles, err)
	}

	defer func() {
		if err != nil {
			for _, f := range files {
				h.stager.Release(ctx, f.LocalPath)
			}
			files = nil
		}
	}()

	files = []models.UploadedFile{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("%w: read multipart: %w", models.ErrStaging, err)
		}

		name := part.FileName()
		if name == "" {
			part.Close()
			continue
		}
		if len(name) > MaxFilenameLength {
			part.Close()
			return files, fmt.Errorf("%w: %s", models.ErrFilenameTooLong, part.FormName())
		}

		path, size, err := h.stager.Stage(ctx, part, name)
		part.Close()
		if err != nil {
			return files, err
		}

		mimeType := part.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		files = append(files, models.UploadedFile{
			FieldName:    part.FormName(),
			OriginalName: name,
			MimeType:     mimeType,
			Size:         size,
			LocalPath:    path,
		})
	}
}

// persist records results; a failed write is logged and does not change the
// response.
func (h *Handlers) persist(ctx context.Context, results []models.UploadResult) {
	if h.media == nil {
		return
	}
	for _, res := range results {
		if res.ID == "" {
			continue
		}
		if _, err := h.media.SaveResult(ctx, res.ID, ingest.FolderForField(res.Field), res); err != nil {
			logger.Warn(ctx, h.log, "Failed to persist upload record", "mediaId", res.ID, "error", err)
		}
	}
}

// PresignRequest asks for a direct-upload URL.
type PresignRequest struct {
	Field       string `json:"field"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// PresignResponse carries the URL to PUT the file to. The worker ingests the
// object once it lands and records it under MediaID.
type PresignResponse struct {
	Success   bool   `json:"success"`
	UploadURL string `json:"uploadUrl"`
	MediaID   string `json:"mediaId"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expiresIn"`
}

// PresignHandler issues a presigned PUT URL into the raw bucket.
func (h *Handlers) PresignHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "presign-handler")
	defer span.End()

	if h.presigner == nil || h.cfg.AWS.RawBucket == "" {
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Direct uploads are not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if err := validateFilename(req.Filename); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	mediaID := uuid.NewString()
	key, err := ingest.RawKey(req.Field, mediaID, req.Filename)
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	span.SetAttributes(
		attribute.String("media.id", mediaID),
		attribute.String("media.key", key),
	)

	url, err := h.presigner.PresignPut(ctx, h.cfg.AWS.RawBucket, key, req.ContentType, PresignedURLExpiration)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, h.log, "Failed to generate presigned URL", "mediaId", mediaID, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	logger.Info(ctx, h.log, "Generated presigned URL", "mediaId", mediaID, "key", key)
	h.writeJSON(ctx, w, http.StatusOK, PresignResponse{
		Success:   true,
		UploadURL: url,
		MediaID:   mediaID,
		Key:       key,
		ExpiresIn: int(PresignedURLExpiration.Seconds()),
	})
}

// MediaResponse wraps a single record.
type MediaResponse struct {
	Success bool                `json:"success"`
	Media   *models.MediaRecord `json:"media"`
}

// GetMediaHandler returns the record stored under {id}.
func (h *Handlers) GetMediaHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get-media")
	defer span.End()

	if h.media == nil {
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Media records are not configured", nil)
		return
	}

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("media.id", id))

	record, err := h.media.GetMedia(ctx, id)
	if err != nil {
		h.writeMediaError(ctx, w, span, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, MediaResponse{Success: true, Media: record})
}

// GetLatestVideoHandler returns the most recently transcoded video.
func (h *Handlers) GetLatestVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get-latest-video")
	defer span.End()

	if h.media == nil {
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Media records are not configured", nil)
		return
	}

	record, err := h.media.GetLatestVideo(ctx)
	if err != nil {
		h.writeMediaError(ctx, w, span, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, MediaResponse{Success: true, Media: record})
}

// ListMediaResponse is one page of a folder listing, newest first.
type ListMediaResponse struct {
	Success    bool                 `json:"success"`
	Media      []models.MediaRecord `json:"media"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ListMediaHandler lists records of ?folder=, paged by ?limit= and ?cursor=.
func (h *Handlers) ListMediaHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list-media")
	defer span.End()

	if h.media == nil {
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Media records are not configured", nil)
		return
	}

	q := r.URL.Query()
	folder := q.Get("folder")
	if folder == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "folder is required", nil)
		return
	}

	limit := DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(ctx, w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, MaxListLimit)
	}

	startKey, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "invalid cursor", nil)
		return
	}

	span.SetAttributes(attribute.String("media.folder", folder), attribute.Int("list.limit", limit))

	records, lastKey, err := h.media.ListByFolder(ctx, folder, int32(limit), startKey)
	if err != nil {
		h.writeMediaError(ctx, w, span, err)
		return
	}
	if records == nil {
		records = []models.MediaRecord{}
	}

	next, err := encodeCursor(lastKey)
	if err != nil {
		h.writeMediaError(ctx, w, span, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, ListMediaResponse{Success: true, Media: records, NextCursor: next})
}

func (h *Handlers) writeMediaError(ctx context.Context, w http.ResponseWriter, span trace.Span, err error) {
	if errors.Is(err, models.ErrMediaNotFound) {
		h.writeError(ctx, w, http.StatusNotFound, "Media not found", nil)
		return
	}
	span.RecordError(err)
	logger.Error(ctx, h.log, "Failed to read media records", "error", err)
	h.writeError(ctx, w, http.StatusInternalServerError, "Failed to retrieve media", nil)
}

// encodeCursor turns a DynamoDB LastEvaluatedKey into an opaque string.
func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	var plain map[string]string
	if err := attributevalue.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, err
	}
	if len(plain) == 0 {
		return nil, errors.New("empty cursor")
	}
	return attributevalue.MarshalMap(plain)
}

func validateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename is required")
	}
	if len(filename) > MaxFilenameLength {
		return models.ErrFilenameTooLong
	}
	return nil
}
