// Package aprs polls the aprs.fi API for text messages addressed to
// subscriber callsigns.
package aprs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashleyhuxley/sonde-alert/errors"
)

// MaxCallsignsPerPoll is the hard limit the aprs.fi API places on a
// single message query.
const MaxCallsignsPerPoll = 10

// Message is one inbound APRS text message.
type Message struct {
	ID          string
	Source      string
	Destination string
	Text        string
	Received    time.Time
}

type wireMessage struct {
	MessageID string `json:"messageid"`
	Time      string `json:"time"`
	SrcCall   string `json:"srccall"`
	Dst       string `json:"dst"`
	Message   string `json:"message"`
}

type wireResponse struct {
	Command     string        `json:"command"`
	Result      string        `json:"result"`
	Description string        `json:"description"`
	Found       int           `json:"found"`
	What        string        `json:"what"`
	Entries     []wireMessage `json:"entries"`
}

// Client queries the aprs.fi message API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an API client. httpClient may be nil, in which case
// a client with a 30s timeout is used.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Poll fetches messages addressed to the given callsigns, at most
// MaxCallsignsPerPoll per call. A failed poll returns an error and no
// messages; the caller's loop logs it and tries again next tick.
func (c *Client) Poll(ctx context.Context, callsigns []string) ([]Message, error) {
	if len(callsigns) == 0 {
		return nil, nil
	}
	if len(callsigns) > MaxCallsignsPerPoll {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%d callsigns exceeds the per-poll limit of %d", len(callsigns), MaxCallsignsPerPoll),
			"aprs", "Poll", "callsign batch validation")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "aprs", "Poll", "endpoint parse")
	}
	q := u.Query()
	q.Set("what", "msg")
	q.Set("dst", strings.Join(callsigns, ","))
	q.Set("apikey", c.apiKey)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "aprs", "Poll", "request build")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "aprs", "Poll", "http request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.WrapTransient(
			fmt.Errorf("unexpected status %s", resp.Status),
			"aprs", "Poll", "http request")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "aprs", "Poll", "response read")
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errors.WrapInvalid(err, "aprs", "Poll", "response parse")
	}
	if wire.Result != "ok" {
		return nil, errors.WrapTransient(
			fmt.Errorf("api result %q: %s", wire.Result, wire.Description),
			"aprs", "Poll", "api response")
	}

	messages := make([]Message, 0, len(wire.Entries))
	for _, e := range wire.Entries {
		messages = append(messages, Message{
			ID:          e.MessageID,
			Source:      e.SrcCall,
			Destination: e.Dst,
			Text:        e.Message,
			Received:    parseTime(e.Time),
		})
	}
	return messages, nil
}

// parseTime converts the API's unix-seconds string. A missing or
// malformed time yields the zero time rather than an error; the
// message is still worth relaying.
func parseTime(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
