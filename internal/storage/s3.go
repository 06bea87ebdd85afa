package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// CacheControlImmutable is set on every object: content at a key never changes.
const CacheControlImmutable = "public, max-age=31536000"

// Default timeout for presign operations
const DefaultS3Timeout = 30 * time.Second

// ObjectPutter is the subset of the S3 client used for writes.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStore writes objects into a single bucket.
type ObjectStore struct {
	client ObjectPutter
	bucket string
	log    *slog.Logger
}

// NewObjectStore creates an ObjectStore for bucket.
func NewObjectStore(client ObjectPutter, bucket string, log *slog.Logger) *ObjectStore {
	return &ObjectStore{
		client: client,
		bucket: bucket,
		log:    log,
	}
}

// Bucket returns the target bucket name.
func (s *ObjectStore) Bucket() string {
	return s.bucket
}

// Put uploads body under key. size may be -1 when unknown.
func (s *ObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType, cacheControl string) error {
	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrUploadFailed, key, err)
	}

	s.log.DebugContext(ctx, "Uploaded object", "bucket", s.bucket, "key", key)
	return nil
}

// PutFile uploads a local file under key and returns its size.
func (s *ObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", models.ErrUploadFailed, localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", models.ErrUploadFailed, localPath, err)
	}

	if err := s.Put(ctx, key, file, info.Size(), contentType, CacheControlImmutable); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".m3u8": "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
	".m4s":  "video/iso.segment",
	".ts":   "video/mp2t",
}

// ContentTypeFor infers a MIME type from the file extension alone.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Presigner issues presigned PUT URLs for direct browser uploads.
type Presigner struct {
	client *s3.PresignClient
}

// NewPresigner wraps an S3 client for presigning.
func NewPresigner(client *s3.Client) *Presigner {
	return &Presigner{client: s3.NewPresignClient(client)}
}

// PresignPut returns a URL the caller can PUT the object body to.
func (p *Presigner) PresignPut(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(lifetime))
	if err != nil {
		return "", fmt.Errorf("failed to presign request: %w", err)
	}

	return req.URL, nil
}
