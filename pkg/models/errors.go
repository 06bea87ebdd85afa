package models

import "errors"

// Sentinel errors for the ingest pipeline.
var (
	// Request errors
	ErrNoFiles       = errors.New("no files in request")
	ErrStaging       = errors.New("failed to stage file")
	ErrMissingKey    = errors.New("object key is required")
	ErrMissingBucket = errors.New("bucket is required")

	// Processing errors
	ErrDownloadFailed  = errors.New("failed to download object")
	ErrTranscodeFailed = errors.New("failed to transcode video")
	ErrFFmpegFailed    = errors.New("ffmpeg execution failed")
	ErrManifestInvalid = errors.New("manifest does not match rendition ladder")
	ErrUploadFailed    = errors.New("failed to upload object")
	ErrTreeUpload      = errors.New("failed to upload artifact tree")

	// Storage errors
	ErrMediaNotFound = errors.New("media not found")

	// Validation errors for uploads
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidField     = errors.New("invalid field name")
	ErrInvalidKeyFormat = errors.New("invalid key format")
)
