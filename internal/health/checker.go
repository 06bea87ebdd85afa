// Package health serves liveness and dependency checks for the media services.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Configuration constants
const (
	DefaultCacheTTL       = 10 * time.Second
	DefaultCheckTimeout   = 5 * time.Second
	DefaultDeepCheckLimit = 10 * time.Second
)

// Check outcomes.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Status represents the health check response.
type Status struct {
	Status    string                    `json:"status"`
	Service   string                    `json:"service"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// ComponentCheck represents the health of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Probe checks one dependency. Probes run only on deep checks.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// S3Client defines the S3 operations needed for health checks.
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// SQSClient defines the SQS operations needed for health checks.
type SQSClient interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// BucketProbe verifies that bucket exists and is reachable.
func BucketProbe(name string, client S3Client, bucket string) Probe {
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
			return err
		},
	}
}

// QueueProbe verifies that the queue is reachable.
func QueueProbe(client SQSClient, queueURL string) Probe {
	return Probe{
		Name: "sqs",
		Check: func(ctx context.Context) error {
			_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl: aws.String(queueURL),
				AttributeNames: []types.QueueAttributeName{
					types.QueueAttributeNameApproximateNumberOfMessages,
				},
			})
			return err
		},
	}
}

// FFmpegProbe verifies that the encoder binary can be found.
func FFmpegProbe(path string) Probe {
	return Probe{
		Name: "ffmpeg",
		Check: func(ctx context.Context) error {
			_, err := exec.LookPath(path)
			return err
		},
	}
}

// StagingProbe verifies that the staging directory accepts new files.
func StagingProbe(dir string) Probe {
	return Probe{
		Name: "staging",
		Check: func(ctx context.Context) error {
			f, err := os.CreateTemp(dir, ".health-*")
			if err != nil {
				return err
			}
			name := f.Name()
			return errors.Join(f.Close(), os.Remove(name))
		},
	}
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	Probes         []Probe
	Logger         *slog.Logger
	CacheTTL       time.Duration
	CheckTimeout   time.Duration
	DeepCheckLimit time.Duration
}

// DefaultConfig returns a Config with default timings and no probes.
func DefaultConfig(serviceName string, logger *slog.Logger, probes ...Probe) *Config {
	return &Config{
		ServiceName:    serviceName,
		Probes:         probes,
		Logger:         logger,
		CacheTTL:       DefaultCacheTTL,
		CheckTimeout:   DefaultCheckTimeout,
		DeepCheckLimit: DefaultDeepCheckLimit,
	}
}

// Checker runs probes and caches their outcome.
type Checker struct {
	config *Config
	now    func() time.Time

	mu            sync.RWMutex
	lastCheck     time.Time
	lastStatus    *Status
	lastDeepCheck time.Time
}

// NewChecker creates a new health checker with the given configuration.
func NewChecker(config *Config) *Checker {
	return &Checker{
		config: config,
		now:    time.Now,
	}
}

// Check reports service health. Shallow checks may be served from cache and
// never touch dependencies; deep checks run every probe.
func (c *Checker) Check(ctx context.Context, deep bool) *Status {
	if !deep {
		c.mu.RLock()
		if c.lastStatus != nil && c.now().Sub(c.lastCheck) < c.config.CacheTTL {
			status := c.lastStatus.clone()
			c.mu.RUnlock()
			return status
		}
		c.mu.RUnlock()
	}

	status := &Status{
		Status:    StatusHealthy,
		Service:   c.config.ServiceName,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if deep {
		for _, probe := range c.config.Probes {
			check := c.run(ctx, probe)
			status.Checks[probe.Name] = check
			if check.Status != StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}

	c.mu.Lock()
	c.lastCheck = c.now()
	c.lastStatus = status.clone()
	c.mu.Unlock()

	return status
}

func (c *Checker) run(ctx context.Context, probe Probe) ComponentCheck {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
	defer cancel()

	err := safeCheck(ctx, probe)
	latency := time.Since(start).String()

	if err != nil {
		if c.config.Logger != nil {
			c.config.Logger.WarnContext(ctx, "Health probe failed", "probe", probe.Name, "error", err)
		}
		return ComponentCheck{Status: StatusUnhealthy, Latency: latency, Error: err.Error()}
	}
	return ComponentCheck{Status: StatusHealthy, Latency: latency}
}

func safeCheck(ctx context.Context, probe Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return probe.Check(ctx)
}

func (s *Status) clone() *Status {
	cp := *s
	cp.Checks = make(map[string]ComponentCheck, len(s.Checks))
	for k, v := range s.Checks {
		cp.Checks[k] = v
	}
	return &cp
}

// CanPerformDeepCheck returns true if enough time has passed since the last deep check.
func (c *Checker) CanPerformDeepCheck() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.lastDeepCheck) >= c.config.DeepCheckLimit
}

// RecordDeepCheck records the time of a deep health check.
func (c *Checker) RecordDeepCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDeepCheck = c.now()
}

// Handler returns an HTTP handler for shallow health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.writeResponse(w, r, c.Check(r.Context(), false))
	}
}

// DeepHandler returns an HTTP handler that runs every probe, at most once per
// DeepCheckLimit.
func (c *Checker) DeepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.CanPerformDeepCheck() {
			status := c.Check(r.Context(), false)
			status.Checks["rate_limited"] = ComponentCheck{
				Status: "info",
				Error:  "Deep health check rate limited, returning cached result",
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(c.config.DeepCheckLimit.Seconds())))
			c.encode(w, r, http.StatusTooManyRequests, status)
			return
		}

		c.RecordDeepCheck()
		c.writeResponse(w, r, c.Check(r.Context(), true))
	}
}

func (c *Checker) writeResponse(w http.ResponseWriter, r *http.Request, status *Status) {
	code := http.StatusOK
	if status.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.encode(w, r, code, status)
}

func (c *Checker) encode(w http.ResponseWriter, r *http.Request, code int, status *Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil && c.config.Logger != nil {
		c.config.Logger.ErrorContext(r.Context(), "Failed to encode health check response", "error", err)
	}
}
