package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"talkosync/internal/domain"
)

type ClientOpts struct {
	BaseURL   *url.URL
	Timeout   time.Duration
	Jar       http.CookieJar
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client talks to the chat backend REST API. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == nil || !opts.BaseURL.IsAbs() {
		return nil, errors.New("httpapi: base url must be absolute")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	base := *opts.BaseURL
	base.Path = strings.TrimRight(base.Path, "/")

	return &Client{
		base: &base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Jar:       opts.Jar,
			Transport: RequestID(RequestLogger(opts.Logger, transport)),
		},
	}, nil
}

func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
	kind   routeKind
}

func (c *Client) do(ctx context.Context, in call) error {
	u := *c.base
	u.Path = c.base.Path + in.path
	if in.query != nil {
		u.RawQuery = in.query.Encode()
	}

	var body bytes.Buffer
	if in.body != nil {
		if err := json.NewEncoder(&body).Encode(in.body); err != nil {
			return fmt.Errorf("encode %s %s: %w", in.method, in.path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, in.method, u.String(), &body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", in.method, in.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", in.method, in.path, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", in.method, in.path, readError(resp, in.kind))
	}
	if in.out == nil {
		return nil
	}
	empty, err := decodeJSONAllowEmpty(resp.Body, in.out)
	if err != nil {
		return fmt.Errorf("decode %s %s: %w: %v", in.method, in.path, domain.ErrTransport, err)
	}
	if empty {
		return fmt.Errorf("decode %s %s: %w: empty body", in.method, in.path, domain.ErrTransport)
	}
	return nil
}

func escape(id string) string { return url.PathEscape(id) }
