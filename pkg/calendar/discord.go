package calendar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/livelaunch/platform/pkg/common/logger"
	"github.com/livelaunch/platform/pkg/diff"
	"github.com/livelaunch/platform/pkg/gateway/httpclient"
)

const (
	privacyGuildOnly   = 2
	entityTypeExternal = 3
	eventStatusActive  = 2

	maxImageBytes = 8 << 20
)

// DiscordClient implements Platform on top of guild scheduled events, one
// guild per workspace.
type DiscordClient struct {
	baseURL  string
	api      *http.Client
	images   *http.Client
	limiter  *rate.Limiter
	attempts int
}

type DiscordOption func(*DiscordClient)

func WithDiscordRateLimit(limit rate.Limit, burst int) DiscordOption {
	return func(c *DiscordClient) { c.limiter = rate.NewLimiter(limit, burst) }
}

func WithDiscordAttempts(n int) DiscordOption {
	return func(c *DiscordClient) { c.attempts = n }
}

func NewDiscordClient(token, baseURL string, timeout time.Duration, opts ...DiscordOption) *DiscordClient {
	base := httpclient.New(timeout)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	api := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bot"}))
	api.Timeout = timeout

	c := &DiscordClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		api:      api,
		images:   base,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type entityMetadata struct {
	Location string `json:"location"`
}

type scheduledEventPayload struct {
	Name               string          `json:"name,omitempty"`
	Description        *string         `json:"description,omitempty"`
	PrivacyLevel       int             `json:"privacy_level,omitempty"`
	EntityType         int             `json:"entity_type,omitempty"`
	EntityMetadata     *entityMetadata `json:"entity_metadata,omitempty"`
	ScheduledStartTime string          `json:"scheduled_start_time,omitempty"`
	ScheduledEndTime   string          `json:"scheduled_end_time,omitempty"`
	Image              string          `json:"image,omitempty"`
	Status             int             `json:"status,omitempty"`
}

func (c *DiscordClient) Create(ctx context.Context, workspaceID string, spec EntrySpec) (string, error) {
	description := spec.Description
	payload := scheduledEventPayload{
		Name:               spec.Name,
		Description:        &description,
		PrivacyLevel:       privacyGuildOnly,
		EntityType:         entityTypeExternal,
		EntityMetadata:     &entityMetadata{Location: spec.Location},
		ScheduledStartTime: formatTime(spec.Start),
		ScheduledEndTime:   formatTime(spec.End),
		Image:              c.image(ctx, spec.ImageURL),
	}

	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/guilds/%s/scheduled-events", workspaceID)
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create scheduled event in %s: empty id in response", workspaceID)
	}
	return created.ID, nil
}

func (c *DiscordClient) Update(ctx context.Context, workspaceID, externalID string, patch EntryPatch) error {
	var payload scheduledEventPayload
	if patch.Fields.Has(diff.FieldName) {
		payload.Name = patch.Spec.Name
	}
	if patch.Fields.Has(diff.FieldDescription) {
		description := patch.Spec.Description
		payload.Description = &description
	}
	if patch.Fields.Has(diff.FieldMediaURL) {
		payload.EntityMetadata = &entityMetadata{Location: patch.Spec.Location}
	}
	if patch.Fields.Has(diff.FieldImageURL) {
		payload.Image = c.image(ctx, patch.Spec.ImageURL)
	}
	if patch.Fields.Has(diff.FieldStart) {
		payload.ScheduledStartTime = formatTime(patch.Spec.Start)
	}
	if patch.Fields.Has(diff.FieldEnd) {
		payload.ScheduledEndTime = formatTime(patch.Spec.End)
	}
	if patch.Activate {
		payload.Status = eventStatusActive
	}

	path := fmt.Sprintf("/guilds/%s/scheduled-events/%s", workspaceID, externalID)
	return c.do(ctx, http.MethodPatch, path, payload, nil)
}

func (c *DiscordClient) Delete(ctx context.Context, workspaceID, externalID string) error {
	path := fmt.Sprintf("/guilds/%s/scheduled-events/%s", workspaceID, externalID)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *DiscordClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		raw = b
	}

	return httpclient.Retry(ctx, c.attempts, 500*time.Millisecond, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return httpclient.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return httpclient.Permanent(err)
		}
		if raw != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.api.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || resp.StatusCode == http.StatusNoContent {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return httpclient.Permanent(fmt.Errorf("decode %s %s: %w", method, path, err))
			}
			return nil
		}

		apiErr := &APIError{Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		status := &httpclient.StatusError{Status: resp.StatusCode, RetryAfter: retryAfter(resp.Header)}
		if httpclient.IsRetriable(status) {
			return fmt.Errorf("%w (%w)", apiErr, status)
		}
		return httpclient.Permanent(apiErr)
	})
}

// image downloads a cover image and encodes it as a data URI. Failures only
// cost the cover, never the entry.
func (c *DiscordClient) image(ctx context.Context, url string) string {
	if url == "" {
		return ""
	}
	log := logger.Component("calendar").WithField("image_url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.WithError(err).Debug("Invalid image url")
		return ""
	}
	resp, err := c.images.Do(req)
	if err != nil {
		log.WithError(err).Warn("Failed to download cover image")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Warn("Failed to download cover image")
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil || len(b) == 0 {
		return ""
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(b)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
