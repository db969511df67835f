// Package remote talks to the planetarium remote control HTTP API.
//
// Reads are JSON GETs. Writes are form-encoded POSTs answered with the
// literal text "ok", or with an error text such as
// "error: invalid time value". Anything but "ok" is reported as a
// *RejectedError; failures to get an answer at all wrap ErrTransport.
package remote

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

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/daviddao/skyclock/pkg/logging"
	"github.com/daviddao/skyclock/pkg/model"
)

// Endpoints of the remote control API.
const (
	StatusEndpoint         = "/api/main/status"
	TimeEndpoint           = "/api/main/time"
	LocationFieldsEndpoint = "/api/location/setlocationfields"
	LocationSearchEndpoint = "/api/locationsearch/search"
	LocationNearbyEndpoint = "/api/locationsearch/nearby"
	PropertySetEndpoint    = "/api/stelproperty/set"
)

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Client is a remote control API client. Safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	log    zerolog.Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithTracerProvider takes spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

const tracerName = "github.com/daviddao/skyclock/pkg/remote"

// New returns a client for the server at rawURL, e.g. http://localhost:8090.
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse server url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Server returns the base URL the client talks to.
func (c *Client) Server() string { return c.base.String() }

// Status fetches the main status. propID is always sent: -2 asks for every
// property, -1 is the id of the initial state. A negative actionID leaves
// the action list out of the answer.
func (c *Client) Status(ctx context.Context, actionID, propID int) (*model.Status, error) {
	q := url.Values{"propId": {strconv.Itoa(propID)}}
	if actionID >= 0 {
		q.Set("actionId", strconv.Itoa(actionID))
	}
	var st model.Status
	if err := c.getJSON(ctx, StatusEndpoint, q, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SearchLocations returns location ids matching term.
func (c *Client) SearchLocations(ctx context.Context, term string) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, LocationSearchEndpoint, url.Values{"term": {term}}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// NearbyLocations returns location ids within radius degrees of a point.
func (c *Client) NearbyLocations(ctx context.Context, planet string, lat, lon, radius float64) ([]string, error) {
	q := url.Values{
		"planet":    {planet},
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"radius":    {strconv.FormatFloat(radius, 'f', -1, 64)},
	}
	var ids []string
	if err := c.getJSON(ctx, LocationNearbyEndpoint, q, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Post sends a command and requires the answer "ok".
func (c *Client) Post(ctx context.Context, endpoint string, form url.Values) error {
	_, err := c.post(ctx, endpoint, form, true)
	return err
}

// PostCommand sends a command and returns the response text, for commands
// that echo a value instead of "ok".
func (c *Client) PostCommand(ctx context.Context, endpoint string, form url.Values) (string, error) {
	return c.post(ctx, endpoint, form, false)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, wantOK bool) (string, error) {
	ctx, span := c.tracer.Start(ctx, "remote.post", trace.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint, nil),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(ctx, req)
	if err != nil {
		recordError(span, err)
		return "", err
	}
	text := strings.TrimSpace(string(body))
	if status >= 400 {
		rej := &RejectedError{Endpoint: endpoint, StatusCode: status, Text: text}
		recordError(span, rej)
		return "", rej
	}
	log := logging.WithSpan(ctx, c.log)
	log.Debug().Str("endpoint", endpoint).Str("form", form.Encode()).Str("response", text).Msg("remote: posted")
	if wantOK && text != "ok" {
		rej := &RejectedError{Endpoint: endpoint, StatusCode: status, Text: text}
		recordError(span, rej)
		return "", rej
	}
	return text, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	ctx, span := c.tracer.Start(ctx, "remote.get", trace.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(endpoint, q), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	body, status, err := c.do(ctx, req)
	if err != nil {
		recordError(span, err)
		return err
	}
	if status >= 400 {
		rej := &RejectedError{Endpoint: endpoint, StatusCode: status, Text: strings.TrimSpace(string(body))}
		recordError(span, rej)
		return rej
	}
	if err := json.Unmarshal(body, out); err != nil {
		err = fmt.Errorf("%w: decode %s: %w", ErrTransport, endpoint, err)
		recordError(span, err)
		return err
	}
	return nil
}

// do runs req and reads the body. Cancellation by the caller is returned
// as context.Canceled so it is not mistaken for a transport failure.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, 0, context.Canceled
		}
		return nil, 0, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, 0, context.Canceled
		}
		return nil, 0, fmt.Errorf("%w: read %s: %w", ErrTransport, req.URL.Path, err)
	}
	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, fmt.Errorf("%w: %s %s: %s", ErrTransport, req.Method, req.URL.Path, resp.Status)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) url(endpoint string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + endpoint
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func recordError(span trace.Span, err error) {
	if IsAborted(err) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
