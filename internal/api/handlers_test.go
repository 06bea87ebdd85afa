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
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BanarasDigital/marketingbackend/internal/auth"
	"github.com/BanarasDigital/marketingbackend/internal/config"
	"github.com/BanarasDigital/marketingbackend/internal/health"
	"github.com/BanarasDigital/marketingbackend/internal/staging"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// fakeProcessor records the staged files it receives and releases them the
// way the orchestrator does.
type fakeProcessor struct {
	mu       sync.Mutex
	got      []models.UploadedFile
	contents []string
	fail     map[string]bool
}

func (p *fakeProcessor) Process(ctx context.Context, files []models.UploadedFile) []models.UploadResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]models.UploadResult, len(files))
	for i, f := range files {
		body, _ := os.ReadFile(f.LocalPath)
		os.Remove(f.LocalPath)
		p.got = append(p.got, f)
		p.contents = append(p.contents, string(body))

		results[i] = models.UploadResult{
			ID:           fmt.Sprintf("media-%d", i),
			Field:        f.FieldName,
			Type:         f.MimeType,
			Size:         f.Size,
			OriginalName: f.OriginalName,
		}
		if p.fail[f.FieldName] {
			results[i].Failed("S3 upload failed: boom")
		} else {
			results[i].URL = "https://cdn.test/" + f.OriginalName
		}
	}
	return results
}

// failingStager stages normally until the named file.
type failingStager struct {
	*staging.Manager
	failOn   string
	mu       sync.Mutex
	released []string
}

func (s *failingStager) Stage(ctx context.Context, r io.Reader, name string) (string, int64, error) {
	if name == s.failOn {
		return "", 0, fmt.Errorf("%w: disk full", models.ErrStaging)
	}
	return s.Manager.Stage(ctx, r, name)
}

func (s *failingStager) Release(ctx context.Context, path string) {
	s.mu.Lock()
	s.released = append(s.released, path)
	s.mu.Unlock()
	s.Manager.Release(ctx, path)
}

type savedRecord struct {
	id, folder string
	result     models.UploadResult
}

type fakeMediaStore struct {
	mu        sync.Mutex
	saved     []savedRecord
	records   map[string]*models.MediaRecord
	lastKey   map[string]types.AttributeValue
	startKeys []map[string]types.AttributeValue
	err       error
}

func (m *fakeMediaStore) SaveResult(ctx context.Context, id, folder string, res models.UploadResult) (*models.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, savedRecord{id, folder, res})
	return &models.MediaRecord{MediaID: id, Folder: folder, UploadResult: res}, nil
}

func (m *fakeMediaStore) GetMedia(ctx context.Context, id string) (*models.MediaRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, models.ErrMediaNotFound
	}
	return rec, nil
}

func (m *fakeMediaStore) GetLatestVideo(ctx context.Context) (*models.MediaRecord, error) {
	return m.GetMedia(ctx, "latest")
}

func (m *fakeMediaStore) ListByFolder(ctx context.Context, folder string, limit int32, startKey map[string]types.AttributeValue) ([]models.MediaRecord, map[string]types.AttributeValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startKeys = append(m.startKeys, startKey)

	var out []models.MediaRecord
	for _, rec := range m.records {
		if rec.Folder == folder && int32(len(out)) < limit {
			out = append(out, *rec)
		}
	}
	return out, m.lastKey, nil
}

type fakePresigner struct {
	bucket, key, contentType string
	err                      error
}

func (p *fakePresigner) PresignPut(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.bucket, p.key, p.contentType = bucket, key, contentType
	return "https://raw.s3.test/" + key + "?X-Amz-Signature=abc", nil
}

type testEnv struct {
	router    http.Handler
	jwt       *auth.JWTService
	processor *fakeProcessor
	raw       *fakeProcessor
	media     *fakeMediaStore
	presigner *fakePresigner
	scratch   *staging.Manager
	cfg       *config.Config
}

type envOption func(*HandlersConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Environment: "test",
		AWS:         config.AWSConfig{RawBucket: "raw-uploads"},
		API: config.APIConfig{
			Username:      "admin",
			Password:      "hunter2",
			MaxUploadSize: 1 << 20,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}},
	}

	scratch, err := staging.NewManager(t.TempDir(), log)
	if err != nil {
		t.Fatalf("staging.NewManager() error = %v", err)
	}
	jwtSvc, _ := auth.NewJWTService([]byte("handler-test-secret-that-is-long-enough"))
	rl := auth.NewRateLimiter(auth.RateLimiterConfig{MaxFailedAttempts: 3, Window: time.Minute, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)

	env := &testEnv{
		jwt:       jwtSvc,
		processor: &fakeProcessor{},
		raw:       &fakeProcessor{},
		media:     &fakeMediaStore{records: map[string]*models.MediaRecord{}},
		presigner: &fakePresigner{},
		scratch:   scratch,
		cfg:       cfg,
	}

	hc := &HandlersConfig{
		Config:       cfg,
		Logger:       log,
		Stager:       scratch,
		Processor:    env.processor,
		RawProcessor: env.raw,
		Media:        env.media,
		Presigner:    env.presigner,
		JWTService:   jwtSvc,
		RateLimiter:  rl,
	}
	for _, opt := range opts {
		opt(hc)
	}

	env.router = NewRouter(&ServerConfig{
		Config:        cfg,
		Logger:        log,
		Handlers:      NewHandlers(hc),
		JWTService:    jwtSvc,
		RateLimiter:   rl,
		HealthChecker: health.NewChecker(health.DefaultConfig("media-api", log)),
	})
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

type formFile struct {
	field, name, mime, body string
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.name))
		if f.mime != "" {
			h.Set("Content-Type", f.mime)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, f.body)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func stagedEntries(t *testing.T, m *staging.Manager) []string {
	t.Helper()
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"video", "lesson.mp4", false},
		{"pdf", "brochure.pdf", false},
		{"no extension", "notes", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxFilenameLength) + ".mp4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFilename(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateFilename(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	login := func(user, pass, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":5555"
		req.SetBasicAuth(user, pass)
		return env.do(req)
	}

	rr := login("admin", "hunter2", "10.1.1.1")
	if rr.Code != http.StatusOK {
		t.Fatalf("login returned %d, want 200", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	tok, _ := body["token"].(string)
	if _, err := env.jwt.ValidateToken(tok); err != nil {
		t.Errorf("issued token does not validate: %v", err)
	}

	for i := 0; i < 3; i++ {
		if rr := login("admin", "wrong", "10.1.1.2"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d returned %d, want 401", i, rr.Code)
		}
	}
	if rr := login("admin", "hunter2", "10.1.1.2"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("limited client returned %d, want 429", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	if rr := env.do(req); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing credentials returned %d, want 401", rr.Code)
	}
}

func TestUpload_StreamsPartsInOrder(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"title": "Intro course"},
		formFile{"image", "cover.png", "image/png", "PNGDATA"},
		formFile{"content-video-1", "lesson one.mp4", "video/mp4", "MP4DATA-LONGER"},
		formFile{"downloadBrochure", "syllabus", "", "PDF"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[UploadResponse](t, rr)
	if !resp.Success || len(resp.Uploads) != 3 {
		t.Fatalf("response = %+v", resp)
	}

	wantFields := []string{"image", "content-video-1", "downloadBrochure"}
	for i, f := range env.processor.got {
		if f.FieldName != wantFields[i] {
			t.Errorf("file %d field = %s, want %s", i, f.FieldName, wantFields[i])
		}
	}
	if got := env.processor.got[1]; got.MimeType != "video/mp4" || got.Size != int64(len("MP4DATA-LONGER")) || got.OriginalName != "lesson one.mp4" {
		t.Errorf("video part staged as %+v", got)
	}
	if got := env.processor.got[2].MimeType; got != "application/octet-stream" {
		t.Errorf("missing part type defaulted to %q", got)
	}
	if env.processor.contents[0] != "PNGDATA" {
		t.Errorf("staged content = %q", env.processor.contents[0])
	}
	if len(env.raw.got) != 0 {
		t.Error("transcoding route must not use the raw processor")
	}

	if len(env.media.saved) != 3 {
		t.Fatalf("saved %d records, want 3", len(env.media.saved))
	}
	if s := env.media.saved[1]; s.id != "media-1" || s.folder != "modules/videos" {
		t.Errorf("video record saved as %s in %s", s.id, s.folder)
	}
	if left := stagedEntries(t, env.scratch); len(left) != 0 {
		t.Errorf("staging not empty: %v", left)
	}
}

func TestUpload_PartialFailureStillOK(t *testing.T) {
	env := newTestEnv(t)
	env.processor.fail = map[string]bool{"image": true}

	body, ct := multipartBody(t, nil,
		formFile{"image", "a.png", "image/png", "x"},
		formFile{"blogImage", "b.png", "image/png", "y"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload returned %d, want 200", rr.Code)
	}
	resp := decode[UploadResponse](t, rr)
	if !resp.Uploads[0].Error || resp.Uploads[1].Error {
		t.Errorf("per-file outcomes = %+v", resp.Uploads)
	}
}

func TestUpload_NoFileParts(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"title": "nothing attached"})
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	rr := env.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload returned %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"uploads":[]`) {
		t.Errorf("body = %s, want empty uploads array", rr.Body.String())
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	if rr := env.do(req); rr.Code != http.StatusBadRequest {
		t.Errorf("upload returned %d, want 400", rr.Code)
	}
}

func TestUpload_StagingFailureReleasesAndFails(t *testing.T) {
	var stager *failingStager
	env := newTestEnv(t, func(hc *HandlersConfig) {
		stager = &failingStager{Manager: hc.Stager.(*staging.Manager), failOn: "second.png"}
		hc.Stager = stager
	})

	body, ct := multipartBody(t, nil,
		formFile{"image", "first.png", "image/png", "one"},
		formFile{"image", "second.png", "image/png", "two"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	rr := env.do(req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("upload returned %d, want 500", rr.Code)
	}
	resp := decode[ErrorResponse](t, rr)
	if resp.Success || resp.Message != "Upload process failed" || !strings.Contains(resp.Error, "disk full") {
		t.Errorf("response = %+v", resp)
	}
	if len(stager.released) != 1 {
		t.Errorf("released %v, want the first staged file", stager.released)
	}
	if len(env.processor.got) != 0 {
		t.Error("processor must not run when staging fails")
	}
	if left := stagedEntries(t, env.scratch); len(left) != 0 {
		t.Errorf("staging not empty: %v", left)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.API.MaxUploadSize = 10

	body, ct := multipartBody(t, nil, formFile{"image", "big.png", "image/png", strings.Repeat("x", 100)})
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	if rr := env.do(req); rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("upload returned %d, want 413", rr.Code)
	}
}

func TestUpload_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, nil, formFile{"image", "a.png", "image/png", "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", ct)

	if rr := env.do(req); rr.Code != http.StatusUnauthorized {
		t.Errorf("upload returned %d, want 401", rr.Code)
	}
	if len(stagedEntries(t, env.scratch)) != 0 {
		t.Error("unauthenticated request staged files")
	}
}

func TestRawUpload_UsesRawProcessor(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, nil, formFile{"previewVideo", "p.mp4", "video/mp4", "vid"})
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/raw", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	if rr := env.do(req); rr.Code != http.StatusOK {
		t.Fatalf("raw upload returned %d", rr.Code)
	}
	if len(env.raw.got) != 1 || len(env.processor.got) != 0 {
		t.Errorf("raw=%d transcode=%d, want 1 and 0", len(env.raw.got), len(env.processor.got))
	}
}

func TestPresign(t *testing.T) {
	env := newTestEnv(t)

	presign := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/uploads/presign", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		return env.do(req)
	}

	rr := presign(`{"field":"content-video-3","filename":"Week 1.mp4","contentType":"video/mp4"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("presign returned %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[PresignResponse](t, rr)
	wantKey := "raw/content-video-3/" + resp.MediaID + "/Week_1.mp4"
	if resp.Key != wantKey || env.presigner.key != wantKey {
		t.Errorf("key = %s, want %s", resp.Key, wantKey)
	}
	if env.presigner.bucket != "raw-uploads" || env.presigner.contentType != "video/mp4" {
		t.Errorf("presigned %s/%s", env.presigner.bucket, env.presigner.contentType)
	}
	if resp.ExpiresIn != 600 || !strings.HasPrefix(resp.UploadURL, "https://raw.s3.test/") {
		t.Errorf("response = %+v", resp)
	}

	for name, body := range map[string]string{
		"bad field":    `{"field":"../x","filename":"a.mp4"}`,
		"no filename":  `{"field":"image"}`,
		"invalid json": `{`,
	} {
		if rr := presign(body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: returned %d, want 400", name, rr.Code)
		}
	}

	env.presigner.err = errors.New("no credentials")
	if rr := presign(`{"field":"image","filename":"a.png"}`); rr.Code != http.StatusInternalServerError {
		t.Errorf("presign failure returned %d, want 500", rr.Code)
	}
}

func TestPresign_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.AWS.RawBucket = ""

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/presign", strings.NewReader(`{"field":"image","filename":"a.png"}`))
	req.Header.Set("Authorization", "Bearer "+env.token(t))

	if rr := env.do(req); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("presign returned %d, want 503", rr.Code)
	}
}

func TestGetMedia(t *testing.T) {
	env := newTestEnv(t)
	env.media.records["abc"] = &models.MediaRecord{
		MediaID: "abc",
		Folder:  "modules/videos",
		IsVideo: true,
		Status:  models.StatusReady,
		UploadResult: models.UploadResult{
			Field:  "content-video-1",
			HLSURL: "https://cdn.test/modules/videos/hls/abc/master.m3u8",
		},
	}
	env.media.records["latest"] = env.media.records["abc"]

	get := func(path string, authed bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authed {
			req.Header.Set("Authorization", "Bearer "+env.token(t))
		}
		return env.do(req)
	}

	rr := get("/api/media/abc", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("get returned %d", rr.Code)
	}
	got := decode[struct {
		Media map[string]any `json:"media"`
	}](t, rr).Media
	if got["id"] != "abc" || got["hlsUrl"] != "https://cdn.test/modules/videos/hls/abc/master.m3u8" || got["status"] != "ready" {
		t.Errorf("media = %v", got)
	}
	if _, leaked := got["PK"]; leaked {
		t.Error("table keys must not be serialized")
	}

	if rr := get("/api/media/missing", true); rr.Code != http.StatusNotFound {
		t.Errorf("missing media returned %d, want 404", rr.Code)
	}
	if rr := get("/api/media/abc", false); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated get returned %d, want 401", rr.Code)
	}
	if rr := get("/api/media/latest", false); rr.Code != http.StatusOK {
		t.Errorf("latest returned %d, want 200", rr.Code)
	}

	env.media.err = errors.New("throttled")
	if rr := get("/api/media/abc", true); rr.Code != http.StatusInternalServerError {
		t.Errorf("store failure returned %d, want 500", rr.Code)
	}
}

func TestListMedia_Cursor(t *testing.T) {
	env := newTestEnv(t)
	env.media.records["a"] = &models.MediaRecord{MediaID: "a", Folder: "courses/images"}
	env.media.records["b"] = &models.MediaRecord{MediaID: "b", Folder: "blogs/coverImages"}
	env.media.lastKey = map[string]types.AttributeValue{
		"pk":     &types.AttributeValueMemberS{Value: "MEDIA#a"},
		"sk":     &types.AttributeValueMemberS{Value: "METADATA"},
		"gsi1pk": &types.AttributeValueMemberS{Value: "FOLDER#courses/images"},
	}

	list := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/media"+query, nil)
		req.Header.Set("Authorization", "Bearer "+env.token(t))
		return env.do(req)
	}

	rr := list("?folder=courses/images&limit=500")
	if rr.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rr.Code, rr.Body.String())
	}
	page := decode[ListMediaResponse](t, rr)
	if len(page.Media) != 1 || page.Media[0].MediaID != "a" || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}

	env.media.lastKey = nil
	rr = list("?folder=courses/images&cursor=" + page.NextCursor)
	if rr.Code != http.StatusOK {
		t.Fatalf("second page returned %d", rr.Code)
	}
	start := env.media.startKeys[1]
	if pk, ok := start["pk"].(*types.AttributeValueMemberS); !ok || pk.Value != "MEDIA#a" {
		t.Errorf("cursor decoded to %v", start)
	}
	if decode[ListMediaResponse](t, rr).NextCursor != "" {
		t.Error("last page must not carry a cursor")
	}

	for _, q := range []string{"", "?folder=x&limit=0", "?folder=x&limit=abc", "?folder=x&cursor=@@@@"} {
		if rr := list(q); rr.Code != http.StatusBadRequest {
			t.Errorf("list%s returned %d, want 400", q, rr.Code)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://admin.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
		req.Header.Set("Origin", "https://admin.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/uploads", nil)
		req.Header.Set("Origin", "https://admin.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("preflight returned %d, want 204", rr.Code)
		}
	})
}

func TestMetricsEndpointInternalOnly(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   int
	}{
		{"loopback", "127.0.0.1:9000", "", http.StatusOK},
		{"private", "10.20.0.5:9000", "", http.StatusOK},
		{"public", "203.0.113.9:9000", "", http.StatusForbidden},
		{"through load balancer", "10.20.0.5:9000", "198.51.100.4", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if rr := env.do(req); rr.Code != tt.want {
				t.Errorf("/metrics returned %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
