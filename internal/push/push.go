// Package push delivers platform push notifications through an external
// delivery service. Delivery is best effort; the fanout dispatcher logs
// failures and moves on.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Notification is one push payload.
type Notification struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
}

// Result reports the outcome of a push attempt.
type Result struct {
	Success     bool `json:"success"`
	DeviceCount int  `json:"device_count"`
}

// Service sends a push notification to every registered device of one user.
type Service interface {
	SendPushNotification(ctx context.Context, userID uuid.UUID, note Notification) (Result, error)
}

// HTTPService calls the push delivery service over HTTP.
type HTTPService struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *logging.Logger
}

// NewHTTPService creates the HTTP push client, or nil when no base URL is
// configured.
func NewHTTPService(baseURL, token string, logger *logging.Logger) *HTTPService {
	if baseURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPService{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		token:   token,
		logger:  logger,
	}
}

type sendRequest struct {
	UserID string `json:"user_id"`
	Notification
}

// SendPushNotification posts the notification to the delivery service.
func (s *HTTPService) SendPushNotification(ctx context.Context, userID uuid.UUID, note Notification) (Result, error) {
	body, err := json.Marshal(sendRequest{UserID: userID.String(), Notification: note})
	if err != nil {
		return Result{}, fmt.Errorf("push: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("push: delivery service returned status %d", resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("push: decode response: %w", err)
	}
	s.logger.Debug("push delivered", "user_id", userID, "devices", out.DeviceCount)
	return out, nil
}

// StubService reports success without sending anything.
type StubService struct {
	logger *logging.Logger
}

func NewStubService(logger *logging.Logger) *StubService {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubService{logger: logger}
}

func (s *StubService) SendPushNotification(ctx context.Context, userID uuid.UUID, note Notification) (Result, error) {
	s.logger.Info("stub push: would send", "user_id", userID, "title", note.Title)
	return Result{Success: true, DeviceCount: 0}, nil
}

var (
	_ Service = (*HTTPService)(nil)
	_ Service = (*StubService)(nil)
)
