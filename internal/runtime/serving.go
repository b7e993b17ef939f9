package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"inferd/internal/source"
	"inferd/pkg/types"
)

const (
	defaultLoadTimeout  = 2 * time.Minute
	defaultPollInterval = 500 * time.Millisecond
)

// Serving talks to a TensorFlow-Serving compatible REST server. The server is
// expected to watch ModelBasePath for numbered version directories; Load
// publishes a new version there and waits until the server reports it
// AVAILABLE. With an empty ModelBasePath the server manages its own models
// and Load only waits for availability.
type Serving struct {
	baseURL      string
	modelName    string
	basePath     string
	loadTimeout  time.Duration
	pollInterval time.Duration
	httpClient   *http.Client

	loadMu  sync.Mutex // serializes Load
	mu      sync.RWMutex
	loaded  bool
	version int64
}

// NewServing constructs a serving-backed runtime.
func NewServing(cfg Config) (*Serving, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("serving runtime requires a base url")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return nil, errors.New("serving runtime requires a model name")
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	s := &Serving{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		modelName:    cfg.ModelName,
		basePath:     cfg.ModelBasePath,
		loadTimeout:  cfg.LoadTimeout,
		pollInterval: cfg.PollInterval,
		httpClient:   cli,
	}
	if s.loadTimeout <= 0 {
		s.loadTimeout = defaultLoadTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s, nil
}

func (s *Serving) Kind() string { return "serving" }

func (s *Serving) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Version returns the model version currently served (0 when unknown).
func (s *Serving) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Serving) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Load publishes src as a new version and waits for the server to serve it.
// A version that fails to become AVAILABLE is removed again so the server
// keeps serving the previous one.
func (s *Serving) Load(ctx context.Context, src source.Source) error {
	if src == nil {
		return errors.New("nil model source")
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	if s.basePath == "" {
		v, err := s.waitAvailable(ctx, 0)
		if err != nil {
			return err
		}
		s.markLoaded(v)
		return nil
	}

	ver, dir, err := s.publish(ctx, src)
	if err != nil {
		return err
	}
	if _, err := s.waitAvailable(ctx, ver); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	s.markLoaded(ver)
	return nil
}

func (s *Serving) markLoaded(ver int64) {
	s.mu.Lock()
	s.loaded = true
	s.version = ver
	s.mu.Unlock()
}

// publish fetches src into a staging directory and renames it into the next
// numbered version slot so the server never observes a partial version.
func (s *Serving) publish(ctx context.Context, src source.Source) (int64, string, error) {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return 0, "", fmt.Errorf("create model base path: %w", err)
	}
	ver, err := nextVersion(s.basePath)
	if err != nil {
		return 0, "", err
	}
	staging, err := os.MkdirTemp(s.basePath, ".staging-")
	if err != nil {
		return 0, "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	p, err := src.Fetch(ctx, staging)
	if err != nil {
		return 0, "", fmt.Errorf("fetch model: %w", err)
	}
	if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
		// single-file artifacts are served from the staging dir itself
		p = staging
	}
	dir := filepath.Join(s.basePath, strconv.FormatInt(ver, 10))
	if err := os.Rename(p, dir); err != nil {
		return 0, "", fmt.Errorf("publish version %d: %w", ver, err)
	}
	return ver, dir, nil
}

// nextVersion returns one past the highest numbered directory under base.
func nextVersion(base string) (int64, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, fmt.Errorf("read model base path: %w", err)
	}
	var highest int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, err := strconv.ParseInt(e.Name(), 10, 64); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

type modelVersionStatus struct {
	Version string `json:"version"`
	State   string `json:"state"`
	Status  struct {
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

type modelStatusResponse struct {
	ModelVersionStatus []modelVersionStatus `json:"model_version_status"`
}

// waitAvailable polls the model status endpoint until version ver (or any
// version when ver is 0) is AVAILABLE. Terminal load errors end the wait.
func (s *Serving) waitAvailable(ctx context.Context, ver int64) (int64, error) {
	statusURL := s.baseURL + "/v1/models/" + s.modelName
	if ver > 0 {
		statusURL += "/versions/" + strconv.FormatInt(ver, 10)
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		st, err := s.fetchStatus(ctx, statusURL)
		if err == nil {
			for _, vs := range st.ModelVersionStatus {
				if vs.State == "AVAILABLE" {
					n, _ := strconv.ParseInt(vs.Version, 10, 64)
					return n, nil
				}
				if vs.State == "END" && vs.Status.ErrorCode != "" && vs.Status.ErrorCode != "OK" {
					return 0, fmt.Errorf("model version %s failed to load: %s", vs.Version, vs.Status.ErrorMessage)
				}
			}
			lastErr = errors.New("model version not yet available")
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("wait for model %s: %w (last: %v)", s.modelName, ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

func (s *Serving) fetchStatus(ctx context.Context, statusURL string) (modelStatusResponse, error) {
	var st modelStatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return st, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return st, errors.New("serving http error: " + resp.Status + ": " + string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode model status: %w", err)
	}
	return st, nil
}

type predictRequest struct {
	Instances []json.RawMessage `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error"`
}

// Invoke posts the payload as a single instance and returns the first prediction.
func (s *Serving) Invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error) {
	if !s.Loaded() {
		return types.ModelOutput{}, errors.New("model not loaded")
	}
	payload := in.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(predictRequest{Instances: []json.RawMessage{payload}})
	if err != nil {
		return types.ModelOutput{}, fmt.Errorf("encode predict request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/models/"+s.modelName+":predict", bytes.NewReader(body))
	if err != nil {
		return types.ModelOutput{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.ModelOutput{}, ctx.Err()
		}
		return types.ModelOutput{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.ModelOutput{}, errors.New("serving http error: " + resp.Status + ": " + string(b))
	}
	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return types.ModelOutput{}, fmt.Errorf("decode predict response: %w", err)
	}
	if pr.Error != "" {
		return types.ModelOutput{}, errors.New("serving predict error: " + pr.Error)
	}
	if len(pr.Predictions) == 0 {
		return types.ModelOutput{}, errors.New("serving returned no predictions")
	}
	return types.ModelOutput{InputID: in.ID, Payload: pr.Predictions[0], CreatedAt: time.Now().UTC()}, nil
}
