package models

import "strings"

// UploadedFile is one incoming file that has already been staged locally.
type UploadedFile struct {
	FieldName    string
	OriginalName string
	MimeType     string
	Size         int64
	LocalPath    string
}

// IsVideo reports whether the file takes the transcode path.
func (f UploadedFile) IsVideo() bool {
	return strings.HasPrefix(f.MimeType, "video/")
}

// UploadResult is the per-file outcome returned to callers.
type UploadResult struct {
	ID           string `json:"id,omitempty" dynamodbav:"-"`
	Field        string `json:"field" dynamodbav:"field"`
	Type         string `json:"type" dynamodbav:"type"`
	Size         int64  `json:"size" dynamodbav:"size"`
	OriginalName string `json:"originalName" dynamodbav:"original_name"`

	// Non-video
	URL string `json:"url,omitempty" dynamodbav:"url,omitempty"`
	Key string `json:"key,omitempty" dynamodbav:"key,omitempty"`

	// Video
	OriginalKey string `json:"originalKey,omitempty" dynamodbav:"original_key,omitempty"`
	OriginalURL string `json:"originalUrl,omitempty" dynamodbav:"original_url,omitempty"`
	HLSKey      string `json:"hlsKey,omitempty" dynamodbav:"hls_key,omitempty"`
	HLSURL      string `json:"hlsUrl,omitempty" dynamodbav:"hls_url,omitempty"`
	DASHKey     string `json:"dashKey,omitempty" dynamodbav:"dash_key,omitempty"`
	DASHURL     string `json:"dashUrl,omitempty" dynamodbav:"dash_url,omitempty"`

	Error   bool   `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Message string `json:"message,omitempty" dynamodbav:"message,omitempty"`

	// Renditions is filled for successful video results.
	Renditions []RenditionOutput `json:"renditions,omitempty" dynamodbav:"renditions,omitempty"`
}

// Failed marks the result as errored and drops any rendition output.
func (r *UploadResult) Failed(msg string) {
	r.Error = true
	r.Message = msg
	r.HLSKey, r.HLSURL = "", ""
	r.DASHKey, r.DASHURL = "", ""
	r.Renditions = nil
}

// RenditionOutput describes one uploaded HLS variant.
type RenditionOutput struct {
	Name          string `json:"name" dynamodbav:"name"`
	PlaylistURL   string `json:"playlistUrl" dynamodbav:"playlist_url"`
	SegmentPrefix string `json:"segmentPrefix" dynamodbav:"segment_prefix"`
}

// MediaStatus represents the state of a persisted upload record.
type MediaStatus string

const (
	StatusReady  MediaStatus = "ready"
	StatusFailed MediaStatus = "failed"
)

// IsValid returns true if the status is a known MediaStatus.
func (s MediaStatus) IsValid() bool {
	switch s {
	case StatusReady, StatusFailed:
		return true
	}
	return false
}

// MediaRecord is the persisted form of an UploadResult.
type MediaRecord struct {
	// Keys
	PK     string `dynamodbav:"pk" json:"-"`
	SK     string `dynamodbav:"sk" json:"-"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty" json:"-"`

	MediaID   string      `dynamodbav:"media_id" json:"id"`
	Folder    string      `dynamodbav:"folder" json:"folder"`
	IsVideo   bool        `dynamodbav:"is_video" json:"isVideo"`
	Status    MediaStatus `dynamodbav:"status" json:"status"`
	CreatedAt string      `dynamodbav:"created_at" json:"createdAt"`

	UploadResult
}

// ObjectCreatedJob is an object landing in the raw bucket, taken from an S3 event.
type ObjectCreatedJob struct {
	Bucket string
	Key    string
	Size   int64
}

// Validate checks that the job names an object.
func (j *ObjectCreatedJob) Validate() error {
	if j.Bucket == "" {
		return ErrMissingBucket
	}
	if j.Key == "" {
		return ErrMissingKey
	}
	return nil
}
