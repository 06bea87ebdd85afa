package worker

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// TestEventName is sent once by S3 when a bucket notification is configured.
const TestEventName = "s3:TestEvent"

// s3Notification is the body S3 delivers to SQS.
type s3Notification struct {
	Event   string `json:"Event"`
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseS3Event extracts ObjectCreated jobs from a notification body. A test
// event yields no jobs and no error.
func ParseS3Event(body string) ([]models.ObjectCreatedJob, error) {
	var n s3Notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if n.Event == TestEventName {
		return nil, nil
	}

	jobs := make([]models.ObjectCreatedJob, 0, len(n.Records))
	for _, rec := range n.Records {
		if !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}

		key, err := DecodeObjectKey(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMalformedEvent, rec.S3.Object.Key, err)
		}

		job := models.ObjectCreatedJob{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			Size:   rec.S3.Object.Size,
		}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// DecodeObjectKey undoes the form encoding S3 applies to keys in event
// notifications ("+" for space, percent escapes for the rest).
func DecodeObjectKey(key string) (string, error) {
	return url.QueryUnescape(key)
}
