package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/garkling/PDFLinkCrawler/internal/config"
	"github.com/garkling/PDFLinkCrawler/internal/crawler"
)

// CreateCrawlRequest captures the payload used to launch a crawl session.
type CreateCrawlRequest struct {
	// StartURLs is a comma-separated seed string, eg. "example.com,https://foo.com".
	StartURLs     string   `json:"start_urls"`
	AllSubdomains FlexBool `json:"all_subdomains"`
	MaxDepth      *int     `json:"max_depth,omitempty"`
	MaxRequests   *int     `json:"max_requests,omitempty"`
	RespectRobots *bool    `json:"respect_robots,omitempty"`
}

// FlexBool decodes a JSON boolean or a string such as "yes", "0" or "true".
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = false
		return nil
	case bytes.Equal(data, []byte("true")):
		*b = true
		return nil
	case bytes.Equal(data, []byte("false")):
		*b = false
		return nil
	}

	var raw string
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("all_subdomains must be a boolean or a string: %w", err)
	}
	v, err := config.ParseBool(raw)
	if err != nil {
		return err
	}
	*b = FlexBool(v)
	return nil
}

// SessionStatus captures the lifecycle stage of a session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusCancelling SessionStatus = "cancelling"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusFailed     SessionStatus = "failed"
)

// SessionSummary surfaces the high-level state of a crawl session.
type SessionSummary struct {
	SessionID      string        `json:"session_id"`
	StartURLs      []string      `json:"start_urls"`
	AllowedDomains []string      `json:"allowed_domains"`
	AllSubdomains  bool          `json:"all_subdomains"`
	Status         SessionStatus `json:"status"`
	LinksFound     int           `json:"links_found"`
	Stats          crawler.Stats `json:"stats"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Message        string        `json:"message,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// SessionDetail extends the summary with the links found so far.
type SessionDetail struct {
	Session SessionSummary `json:"session"`
	Links   []string       `json:"links"`
}

// SSEEvent envelopes session state for Server-Sent Event clients.
type SSEEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Session   SessionSummary `json:"session"`
	Link      string         `json:"link,omitempty"`
}
