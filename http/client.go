package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/tracing"
	"github.com/influxdata/shardkit/session"
)

// Client talks to a shardd server over HTTP.
type Client struct {
	Addr string

	client *http.Client
}

// NewClientService returns a client for the server at addr.
func NewClientService(addr string, insecureSkipVerify bool) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		Addr:   addr,
		client: NewClient(u.Scheme, insecureSkipVerify),
	}, nil
}

// Get returns the record of the given type and identifier.
func (c *Client) Get(ctx context.Context, entityType string, id shardkit.ID) (*shardkit.Record, error) {
	b, err := c.do(ctx, http.MethodGet, path.Join(prefixEntities, entityType, id.String()), nil)
	if err != nil {
		return nil, err
	}
	return shardkit.UnmarshalRecord(b)
}

// Save creates r and assigns its identifier.
func (c *Client) Save(ctx context.Context, r *shardkit.Record) error {
	body, err := shardkit.MarshalRecord(r)
	if err != nil {
		return err
	}
	b, err := c.do(ctx, http.MethodPost, path.Join(prefixEntities, r.Type), body)
	if err != nil {
		return err
	}
	saved, err := shardkit.UnmarshalRecord(b)
	if err != nil {
		return err
	}
	r.ID = saved.ID
	r.Links = saved.Links
	return nil
}

// Delete removes the record of the given type and identifier.
func (c *Client) Delete(ctx context.Context, entityType string, id shardkit.ID) error {
	_, err := c.do(ctx, http.MethodDelete, path.Join(prefixEntities, entityType, id.String()), nil)
	return err
}

// Query runs q and returns its results as decoded JSON objects.
func (c *Client) Query(ctx context.Context, q *criteria.Criteria) ([]map[string]interface{}, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	b, err := c.do(ctx, http.MethodPost, prefixQuery, body)
	if err != nil {
		return nil, err
	}

	var res struct {
		Results []map[string]interface{} `json:"results"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Shards returns the shard layout of the server.
func (c *Client) Shards(ctx context.Context) ([]session.ShardInfo, error) {
	b, err := c.do(ctx, http.MethodGet, prefixShards, nil)
	if err != nil {
		return nil, err
	}
	var res shardsResponse
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, err
	}
	return res.Shards, nil
}

func (c *Client) do(ctx context.Context, method, p string, body []byte) ([]byte, error) {
	u, err := NewURL(c.Addr, p)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := CheckError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// NewURL concats addr and path.
func NewURL(addr, path string) (*url.URL, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	u.Path = path
	return u, nil
}

// NewClient returns an http.Client that pools connections and injects a span.
func NewClient(scheme string, insecure bool) *http.Client {
	return httpClient(scheme, insecure)
}

// SpanTransport injects the http.RoundTripper.RoundTrip() request
// with a span.
type SpanTransport struct {
	base http.RoundTripper
}

// RoundTrip implements the http.RoundTripper, intercepting the base
// round trippers call and injecting a span.
func (s *SpanTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	span, _ := tracing.StartSpanFromContext(r.Context())
	defer span.Finish()
	tracing.InjectToHTTPRequest(span, r)
	return s.base.RoundTrip(r)
}

func httpClient(scheme string, insecure bool) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if scheme == "https" && insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Transport: &SpanTransport{
			base: tr,
		},
	}
}
