package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/templatefmt"
)

// DiscordSender posts notifications as webhook embeds.
// Params: channel name, webhook URL and display username.
// Returns: Discord-compatible webhook sender.
type DiscordSender struct {
	name   string
	cfg    config.ChannelConfig
	client *http.Client
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []domain.Field `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// NewDiscordSender creates webhook embed sender.
// Params: channel name, channel config and HTTP client.
// Returns: initialized sender.
func NewDiscordSender(name string, cfg config.ChannelConfig, client *http.Client) *DiscordSender {
	return &DiscordSender{name: name, cfg: cfg, client: client}
}

// Channel returns sender channel name.
func (s *DiscordSender) Channel() string {
	return s.name
}

// Send posts one embed to the webhook.
// Params: context and notification payload.
// Returns: HTTP status and transport or status error.
func (s *DiscordSender) Send(ctx context.Context, notification domain.Notification) (Result, error) {
	embed := discordEmbed{
		Title:       notification.Title,
		Description: notification.Description,
		Color:       notification.Severity.Color(),
		Fields:      notification.Fields,
	}
	if !notification.Timestamp.IsZero() {
		embed.Timestamp = notification.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	payload := discordPayload{
		Username: strings.TrimSpace(s.cfg.Username),
		Embeds:   []discordEmbed{embed},
	}
	return postJSON(ctx, s.client, "discord", http.MethodPost, s.cfg.URL, nil, payload, nil)
}

// HTTPSender posts notification JSON with rendered text to a generic endpoint.
// Params: endpoint URL, method, headers and text template.
// Returns: generic HTTP sender.
type HTTPSender struct {
	name   string
	cfg    config.ChannelConfig
	tmpl   *template.Template
	client *http.Client
}

type httpPayload struct {
	domain.Notification
	Text string `json:"text"`
}

// NewHTTPSender creates generic HTTP sender.
// Params: channel name, channel config, text template and HTTP client.
// Returns: initialized sender.
func NewHTTPSender(name string, cfg config.ChannelConfig, tmpl *template.Template, client *http.Client) *HTTPSender {
	return &HTTPSender{name: name, cfg: cfg, tmpl: tmpl, client: client}
}

// Channel returns sender channel name.
func (s *HTTPSender) Channel() string {
	return s.name
}

// Send delivers JSON payload to configured HTTP endpoint.
// Params: context and notification payload.
// Returns: HTTP status and transport or status error.
func (s *HTTPSender) Send(ctx context.Context, notification domain.Notification) (Result, error) {
	text, err := templatefmt.Render(s.tmpl, notification)
	if err != nil {
		return Result{}, fmt.Errorf("render http notify text: %w", err)
	}
	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	return postJSON(ctx, s.client, "http notify", method, s.cfg.URL, s.cfg.Headers, httpPayload{Notification: notification, Text: text}, nil)
}

// MattermostSender posts notifications to Mattermost API posts endpoint.
// Params: API base URL, bot token, and channel id from config.
// Returns: Mattermost sender.
type MattermostSender struct {
	name   string
	cfg    config.ChannelConfig
	tmpl   *template.Template
	client *http.Client
}

// NewMattermostSender creates Mattermost API sender.
// Params: channel name, channel config, text template and HTTP client.
// Returns: initialized sender.
func NewMattermostSender(name string, cfg config.ChannelConfig, tmpl *template.Template, client *http.Client) *MattermostSender {
	return &MattermostSender{name: name, cfg: cfg, tmpl: tmpl, client: client}
}

// Channel returns sender channel name.
func (s *MattermostSender) Channel() string {
	return s.name
}

// Send posts one formatted message to Mattermost API.
// Params: context and notification payload.
// Returns: post id as ExternalRef, or transport/HTTP error.
func (s *MattermostSender) Send(ctx context.Context, notification domain.Notification) (Result, error) {
	message, err := templatefmt.Render(s.tmpl, notification)
	if err != nil {
		return Result{}, fmt.Errorf("render mattermost text: %w", err)
	}
	payload := struct {
		ChannelID string `json:"channel_id"`
		Message   string `json:"message"`
	}{
		ChannelID: strings.TrimSpace(s.cfg.ChannelID),
		Message:   message,
	}
	var decoded struct {
		ID string `json:"id"`
	}
	endpoint := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/") + "/api/v4/posts"
	headers := map[string]string{"Authorization": "Bearer " + strings.TrimSpace(s.cfg.BotToken)}
	result, err := postJSON(ctx, s.client, "mattermost", http.MethodPost, endpoint, headers, payload, &decoded)
	if err != nil {
		return result, err
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return result, errors.New("mattermost response missing id")
	}
	result.ExternalRef = decoded.ID
	return result, nil
}

// postJSON sends one JSON request and checks for a 2xx status.
// Params: client, error prefix, method, URL, extra headers, body and optional response target.
// Returns: HTTP status and transport, status or decode error.
func postJSON(ctx context.Context, client *http.Client, prefix, method, url string, headers map[string]string, body any, out any) (Result, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s payload: %w", prefix, err)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("build %s request: %w", prefix, err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return Result{}, fmt.Errorf("%s send: %w", prefix, err)
	}
	defer response.Body.Close()
	result := Result{StatusCode: response.StatusCode}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return result, unexpectedHTTPStatusError(prefix, response)
	}
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return result, fmt.Errorf("decode %s response: %w", prefix, err)
		}
	}
	return result, nil
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
