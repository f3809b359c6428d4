// Package signuplog records account signups to an external sink. Recording
// is fire-and-forget: a failing sink is logged and never fails the signup.
package signuplog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mask replaces the recorded credential.
const Mask = "********"

// Entry is one signup notice.
type Entry struct {
	Email      string    `json:"email"`
	Credential string    `json:"password"`
	At         time.Time `json:"at"`
}

// Recorder delivers one entry to a sink.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type Config struct {
	Kind    string // log | http | none
	URL     string
	LogFile string
	Timeout time.Duration
}

// ConfigFromEnv reads SIGNUP_RECORDER, SIGNUP_RECORDER_URL and SIGNUP_LOG_FILE.
func ConfigFromEnv() Config {
	kind := strings.ToLower(os.Getenv("SIGNUP_RECORDER"))
	if kind == "" {
		kind = "log"
	}
	url := os.Getenv("SIGNUP_RECORDER_URL")
	if url == "" {
		url = "http://localhost:5050/signup"
	}
	file := os.Getenv("SIGNUP_LOG_FILE")
	if file == "" {
		file = "signups.log"
	}
	return Config{Kind: kind, URL: url, LogFile: file, Timeout: 5 * time.Second}
}

// New builds the recorder selected by cfg. It returns nil for kind "none".
func New(cfg Config) (Recorder, error) {
	switch cfg.Kind {
	case "none":
		return nil, nil
	case "http":
		return NewHTTPRecorder(cfg.URL, &http.Client{Timeout: cfg.Timeout}), nil
	case "log":
		r, err := NewFileRecorder(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown signup recorder %q", cfg.Kind)
	}
}

// LogRecorder writes one structured line per signup.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// NewFileRecorder writes JSON lines to a daily rotated file; path is kept as
// a symlink to the current file.
func NewFileRecorder(path string) (*LogRecorder, error) {
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(30*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open signup log: %w", err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), zapcore.InfoLevel)
	return &LogRecorder{logger: zap.New(core)}, nil
}

func (r *LogRecorder) Record(_ context.Context, e Entry) error {
	r.logger.Info("signup",
		zap.String("email", e.Email),
		zap.String("password", Mask),
		zap.Time("at", e.At),
	)
	return r.logger.Sync()
}

// HTTPRecorder posts the entry as JSON to a signup collector.
type HTTPRecorder struct {
	url    string
	client *http.Client
}

func NewHTTPRecorder(url string, client *http.Client) *HTTPRecorder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRecorder{url: url, client: client}
}

func (r *HTTPRecorder) Record(ctx context.Context, e Entry) error {
	e.Credential = Mask
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post signup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post signup: unexpected status %d", resp.StatusCode)
	}
	return nil
}
