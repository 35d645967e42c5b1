package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/consultation-booking/internal/core/common/tokencache"
)

var ErrNotFound = errors.New("video provider: meeting not found")

type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("video provider %s returned status %d", e.Op, e.StatusCode)
}

type Meeting struct {
	ID       string
	JoinURL  string
	Password string
}

// MeetingUpdate changes only the fields that are set.
type MeetingUpdate struct {
	StartTime       *time.Time
	DurationMinutes *int
}

type Config struct {
	BaseURL      string
	AuthURL      string
	AccountID    string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *tokencache.Cache
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	c.tokens = tokencache.New(c.authenticate)
	return c
}

type createMeetingRequest struct {
	Topic     string          `json:"topic"`
	Type      int             `json:"type"`
	StartTime string          `json:"start_time"`
	Duration  int             `json:"duration"`
	Timezone  string          `json:"timezone"`
	Settings  meetingSettings `json:"settings"`
}

type meetingSettings struct {
	JoinBeforeHost bool `json:"join_before_host"`
	WaitingRoom    bool `json:"waiting_room"`
}

type createMeetingResponse struct {
	ID       json.Number `json:"id"`
	JoinURL  string      `json:"join_url"`
	Password string      `json:"password"`
}

// scheduledMeeting is the provider's meeting type for a fixed start time.
const scheduledMeeting = 2

// CreateMeeting schedules a meeting owned by hostIdentity.
func (c *Client) CreateMeeting(ctx context.Context, hostIdentity, topic string, startTime time.Time, durationMinutes int) (*Meeting, error) {
	req := createMeetingRequest{
		Topic:     topic,
		Type:      scheduledMeeting,
		StartTime: startTime.UTC().Format(time.RFC3339),
		Duration:  durationMinutes,
		Timezone:  "UTC",
		Settings:  meetingSettings{WaitingRoom: true},
	}

	var resp createMeetingResponse
	path := fmt.Sprintf("/users/%s/meetings", url.PathEscape(hostIdentity))
	if err := c.call(ctx, "create meeting", http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	meeting := &Meeting{
		ID:       resp.ID.String(),
		JoinURL:  resp.JoinURL,
		Password: resp.Password,
	}
	c.logger.Info("meeting created", "meeting_id", meeting.ID, "start_time", req.StartTime)
	return meeting, nil
}

// UpdateMeeting moves or resizes an existing meeting.
func (c *Client) UpdateMeeting(ctx context.Context, meetingID string, update MeetingUpdate) error {
	body := map[string]interface{}{}
	if update.StartTime != nil {
		body["start_time"] = update.StartTime.UTC().Format(time.RFC3339)
		body["timezone"] = "UTC"
	}
	if update.DurationMinutes != nil {
		body["duration"] = *update.DurationMinutes
	}
	if len(body) == 0 {
		return nil
	}

	path := "/meetings/" + url.PathEscape(meetingID)
	if err := c.call(ctx, "update meeting", http.MethodPatch, path, body, nil); err != nil {
		return err
	}
	c.logger.Info("meeting updated", "meeting_id", meetingID)
	return nil
}

// DeleteMeeting cancels a meeting. A meeting that no longer exists counts as
// deleted.
func (c *Client) DeleteMeeting(ctx context.Context, meetingID string) error {
	path := "/meetings/" + url.PathEscape(meetingID)
	err := c.call(ctx, "delete meeting", http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrNotFound) {
		c.logger.Info("meeting already deleted", "meeting_id", meetingID)
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("meeting deleted", "meeting_id", meetingID)
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// authenticate uses the server-to-server account credentials grant.
func (c *Client) authenticate(ctx context.Context) (string, time.Duration, error) {
	q := url.Values{}
	q.Set("grant_type", "account_credentials")
	q.Set("account_id", c.cfg.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("video provider token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, c.statusError("token", resp)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, errors.New("video provider returned an empty access token")
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return tok.AccessToken, ttl, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("video provider %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return c.statusError(op, resp)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return c.statusError(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	c.logger.Error("video provider error",
		"op", op,
		"status_code", resp.StatusCode,
		"body", err.Body)
	return err
}
