package relaybox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Client talks to a relay's invite mailbox over HTTP. The websocket
// relay URL (ws:// or wss://) is rewritten to its HTTP origin.

var (
	ErrNotFound  = errf("relaybox: invite not found")
	ErrNoAnswer  = errf("relaybox: no answer yet")
	ErrHasAnswer = errf("relaybox: answer already posted")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func NewClient(relayURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        httpOrigin(relayURL),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateInvite posts the offer and returns the allocated invite code.
func (c *Client) CreateInvite(ctx context.Context, offer string) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	req := map[string]string{"offer": offer}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/box", req, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

// Offer fetches the offer stored under code.
func (c *Client) Offer(ctx context.Context, code string) (string, error) {
	var resp struct {
		Offer string `json:"offer"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/v1/box/"+url.PathEscape(code)+"/offer", nil, &resp); err != nil {
		return "", err
	}
	return resp.Offer, nil
}

// PostAnswer stores the joiner's answer under code.
func (c *Client) PostAnswer(ctx context.Context, code, answer string) error {
	req := map[string]string{"answer": answer}
	return c.doJSON(ctx, fasthttp.MethodPost, "/v1/box/"+url.PathEscape(code)+"/answer", req, nil)
}

// Answer fetches the joiner's answer, ErrNoAnswer while pending.
func (c *Client) Answer(ctx context.Context, code string) (string, error) {
	var resp struct {
		Answer string `json:"answer"`
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/v1/box/"+url.PathEscape(code)+"/answer", nil, &resp); err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// WaitAnswer polls until an answer appears or ctx expires.
func (c *Client) WaitAnswer(ctx context.Context, code string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		answer, err := c.Answer(ctx, code)
		if err == nil {
			return answer, nil
		}
		if err != ErrNoAnswer {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("relaybox: marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	timeout := c.defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("relaybox: %s %s: %w", method, path, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated:
	case fasthttp.StatusNoContent:
		// POST answer succeeds with 204; a GET on the answer endpoint
		// uses 204 to mean "still pending".
		if method == fasthttp.MethodGet && strings.HasSuffix(path, "/answer") {
			return ErrNoAnswer
		}
		return nil
	case fasthttp.StatusNotFound:
		return ErrNotFound
	case fasthttp.StatusConflict:
		return ErrHasAnswer
	default:
		return fmt.Errorf("relaybox: %s %s: status %d", method, path, resp.StatusCode())
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("relaybox: decode response: %w", err)
		}
	}
	return nil
}

func httpOrigin(relayURL string) string {
	u := strings.TrimRight(strings.TrimSpace(relayURL), "/")
	switch {
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	default:
		return u
	}
}
