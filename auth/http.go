package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/bulletchat/chat"
)

const (
	authPath = "/auth"

	// max response body to read.
	readLimit = 64 * 1024
)

// Error is returned for non-2xx auth responses.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: unexpected status %d: %s", e.Status, e.Body)
}

type Attributes struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Request is the body of `POST /auth`.
type Request struct {
	Arn               string     `json:"arn"`
	UserId            string     `json:"userId"`
	Attributes        Attributes `json:"attributes"`
	Capabilities      []string   `json:"capabilities"`
	DurationInMinutes int        `json:"durationInMinutes"`
}

// Response is the JSON variant of the auth response. Timestamps are ISO-8601.
type Response struct {
	Token                 string `json:"token"`
	SessionExpirationTime string `json:"sessionExpirationTime"`
	TokenExpirationTime   string `json:"tokenExpirationTime"`
}

func NewRequest(roomArn string, id *Identity, durationMinutes int) *Request {
	return &Request{
		Arn:    roomArn,
		UserId: id.UserId,
		Attributes: Attributes{
			Username: id.Username,
			Avatar:   id.Avatar,
		},
		Capabilities:      Capabilities(id.Moderator),
		DurationInMinutes: durationMinutes,
	}
}

// HTTPClient calls the external auth endpoint.
type HTTPClient struct {
	endpoint        string
	roomArn         string
	durationMinutes int
	http            *http.Client
}

func NewHTTPClient(apiURL, roomArn string, durationMinutes int, timeout time.Duration) *HTTPClient {
	if durationMinutes <= 0 {
		durationMinutes = DefaultDurationMinutes
	}
	return &HTTPClient{
		endpoint:        strings.TrimRight(apiURL, "/") + authPath,
		roomArn:         roomArn,
		durationMinutes: durationMinutes,
		http:            &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Auth(ctx context.Context, id *Identity) (*chat.AuthToken, error) {
	body, err := json.Marshal(NewRequest(c.roomArn, id, c.durationMinutes))
	if err != nil {
		return nil, fmt.Errorf("auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("auth: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	glog.V(5).Infof("auth: POST %s, user: %s", c.endpoint, id.UserId)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, readLimit))
	if err != nil {
		return nil, fmt.Errorf("auth: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}
	return ParseToken(data)
}

// ParseToken decodes either the JSON response or, for backends that answer
// with the bare token, the raw body.
func ParseToken(data []byte) (*chat.AuthToken, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyToken
	}

	if trimmed[0] != '{' {
		return &chat.AuthToken{Value: strings.Trim(string(trimmed), `"`)}, nil
	}

	var r Response
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return nil, fmt.Errorf("auth: decode response: %w", err)
	}
	if r.Token == "" {
		return nil, ErrEmptyToken
	}

	out := &chat.AuthToken{Value: r.Token}
	if t, err := parseTime(r.SessionExpirationTime); err == nil {
		out.SessionExpiresAt = t
	} else {
		glog.Errorf("auth: bad sessionExpirationTime %q: %v", r.SessionExpirationTime, err)
	}
	if t, err := parseTime(r.TokenExpirationTime); err == nil {
		out.TokenExpiresAt = t
	} else {
		glog.Errorf("auth: bad tokenExpirationTime %q: %v", r.TokenExpirationTime, err)
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
