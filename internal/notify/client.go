// Package notify posts new-lead announcements to the sales chat channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

const defaultTimeout = 10 * time.Second

// Config holds chat webhook settings
type Config struct {
	WebhookURL string        `yaml:"webhook_url"`
	Channel    string        `yaml:"channel"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Client struct {
	webhookURL string
	channel    string
	client     *http.Client
	logger     logger.Logger
}

// message is the chat webhook payload shape
type message struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`
	Blocks  []block `json:"blocks,omitempty"`
}

type block struct {
	Type string `json:"type"`
	Text *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"text,omitempty"`
}

func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("notification webhook URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		client:     &http.Client{Timeout: timeout},
		logger:     log,
	}, nil
}

// Notify announces a freshly stored lead to the sales channel
func (c *Client) Notify(ctx context.Context, lead *domain.Lead, profile *domain.CompanyProfile) error {
	msg := buildMessage(c.channel, lead, profile)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notification webhook failed: %d %s", resp.StatusCode, string(bodyBytes))
	}

	c.logger.Debug("lead notification sent",
		logger.String("lead_id", lead.ID),
		logger.String("company", lead.Company))
	return nil
}

func buildMessage(channel string, lead *domain.Lead, profile *domain.CompanyProfile) message {
	text := fmt.Sprintf("New lead: %s %s at %s (%s)",
		lead.FirstName, lead.LastName, lead.Company, profile.Industry)

	body := fmt.Sprintf("*%s %s*\n%s\nIndustry: %s (%.0f%% confidence)",
		lead.FirstName, lead.LastName, lead.Email, profile.Industry, profile.Confidence*100)
	if profile.TalkingPoint != "" {
		body += "\nTalking point: " + profile.TalkingPoint
	}
	if lead.CampaignName != nil {
		body += "\nCampaign: " + *lead.CampaignName
	}

	section := block{Type: "section"}
	section.Text = &struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "mrkdwn", Text: body}

	return message{
		Channel: channel,
		Text:    text,
		Blocks:  []block{section},
	}
}
