package axl

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"ucm-sync/internal/entity"
	"ucm-sync/internal/models"
	"ucm-sync/pkg/log"
)

const (
	defaultPort    = "8443"
	defaultTimeout = 30 * time.Second
	maxReplyBytes  = 64 << 20
)

type Options struct {
	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
	// Scheme defaults to https; tests point clients at plain http servers.
	Scheme string
	// BreakerTimeout is how long a tripped node stays open.
	BreakerTimeout time.Duration
	// BreakerFailures consecutive transient failures trip a node's breaker.
	BreakerFailures uint32
}

// SOAPClient is the AXL Client backed by one HTTP client and circuit breaker
// per UCM node.
type SOAPClient struct {
	options Options
	mu      sync.Mutex
	nodes   map[string]*nodeClient
	logger  zerolog.Logger
}

var _ Client = (*SOAPClient)(nil)

//nolint:mnd
func NewSOAPClient(options Options) *SOAPClient {
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultTimeout
	}
	if options.Scheme == "" {
		options.Scheme = "https"
	}
	if options.BreakerTimeout <= 0 {
		options.BreakerTimeout = 30 * time.Second
	}
	if options.BreakerFailures == 0 {
		options.BreakerFailures = 5
	}
	return &SOAPClient{
		options: options,
		nodes:   make(map[string]*nodeClient),
		logger:  log.Logger.With().Str("component", "axl_client").Logger(),
	}
}

func (c *SOAPClient) Ping(ctx context.Context, target models.SyncTarget) error {
	nc, err := c.nodeFor(target)
	if err != nil {
		return err
	}

	response, err := nc.call(ctx, "getCCMVersion", newRequest(target.APIVersion, "getCCMVersion").finish("getCCMVersion"))
	if err != nil {
		return err
	}

	version := ""
	if ret := response.child("return"); ret != nil {
		if info := ret.child("componentVersion"); info != nil {
			if v := info.child("version"); v != nil {
				version = v.text.String()
			}
		}
	}
	nc.decorateLog(c.logger.Debug, "ping").Str("ucm_version", version).Msg("Node answered")
	return nil
}

func (c *SOAPClient) List(ctx context.Context, req ListRequest) (*Page, error) {
	d, err := entity.Lookup(req.EntityType)
	if err != nil {
		return nil, err
	}
	nc, err := c.nodeFor(req.Target)
	if err != nil {
		return nil, err
	}

	if !d.Paginated() {
		const operation = "executeSQLQuery"
		body := newRequest(req.Target.APIVersion, operation).element("sql", d.SQL).finish(operation)
		response, err := nc.call(ctx, operation, body)
		if err != nil {
			return nil, err
		}
		return &Page{Records: returnedRecords(response, d.ResultTag)}, nil
	}

	skip := 0
	if req.PageToken != "" {
		skip, err = strconv.Atoi(req.PageToken)
		if err != nil || skip < 0 {
			return nil, fmt.Errorf("invalid page token %q", req.PageToken)
		}
	}

	b := newRequest(req.Target.APIVersion, d.ListOperation).
		open("searchCriteria").element(d.SearchField, "%").close("searchCriteria").
		open("returnedTags")
	for _, tag := range d.ReturnedTags {
		b.empty(tag)
	}
	b.close("returnedTags")
	if req.PageSize > 0 {
		b.element("skip", strconv.Itoa(skip)).element("first", strconv.Itoa(req.PageSize))
	}

	response, err := nc.call(ctx, d.ListOperation, b.finish(d.ListOperation))
	if err != nil {
		return nil, err
	}

	page := &Page{Records: returnedRecords(response, d.ResultTag)}
	if req.PageSize > 0 && len(page.Records) == req.PageSize {
		page.NextPageToken = strconv.Itoa(skip + len(page.Records))
	}
	return page, nil
}

func (c *SOAPClient) Get(ctx context.Context, target models.SyncTarget, entityType models.EntityType, id string) (models.RawRecord, error) {
	d, err := entity.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	if !d.HasDetail() {
		return nil, fmt.Errorf("entity type %s has no get operation", entityType)
	}
	nc, err := c.nodeFor(target)
	if err != nil {
		return nil, err
	}

	body := newRequest(target.APIVersion, d.GetOperation).element("uuid", id).finish(d.GetOperation)
	response, err := nc.call(ctx, d.GetOperation, body)
	if err != nil {
		return nil, err
	}

	records := returnedRecords(response, d.ResultTag)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s returned no %s", ErrUnexpectedReply, d.GetOperation, d.ResultTag)
	}
	return records[0], nil
}

// nodeFor returns the cached client of the target's API node. Clients are
// keyed by host and credentials so a changed password gets a fresh client.
func (c *SOAPClient) nodeFor(target models.SyncTarget) (*nodeClient, error) {
	if !target.Credentials.Valid() {
		return nil, fmt.Errorf("%w: missing credentials for %s", ErrUnauthorized, target)
	}
	node, err := target.APINode()
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%s|%t", node.Host, target.Credentials.Username, target.APIVersion, target.TLSSkipVerify)

	c.mu.Lock()
	defer c.mu.Unlock()
	if nc, ok := c.nodes[key]; ok && nc.password == target.Credentials.Password {
		return nc, nil
	}
	nc := newNodeClient(c.options, target, node)
	c.nodes[key] = nc
	return nc, nil
}

type nodeClient struct {
	endpoint   string
	apiVersion string
	username   string
	password   string
	node       models.Node
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func newNodeClient(options Options, target models.SyncTarget, node models.Node) *nodeClient {
	host := node.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultPort)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	//nolint:gosec
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: target.TLSSkipVerify}

	nc := &nodeClient{
		endpoint:   fmt.Sprintf("%s://%s/axl/", options.Scheme, host),
		apiVersion: target.APIVersion,
		username:   target.Credentials.Username,
		password:   target.Credentials.Password,
		node:       node,
		timeout:    options.RequestTimeout,
		httpClient: &http.Client{Transport: transport},
	}

	failures := options.BreakerFailures
	nc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "axl-" + node.Host,
		MaxRequests: 1,
		Timeout:     options.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// only an unhealthy node should trip the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Logger.Warn().
				Str("component", "axl_client").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker changed state")
		},
	})
	return nc
}

// call posts one envelope and returns the element inside the SOAP body.
func (nc *nodeClient) call(ctx context.Context, operation string, envelope []byte) (*xmlNode, error) {
	result, err := nc.breaker.Execute(func() (interface{}, error) {
		return nc.roundTrip(ctx, operation, envelope)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, transient(fmt.Errorf("%w: %s: %v", ErrNodeUnavailable, nc.node.Host, err))
		}
		return nil, err
	}
	return result.(*xmlNode), nil
}

func (nc *nodeClient) roundTrip(ctx context.Context, operation string, envelope []byte) (*xmlNode, error) {
	requestCtx, cancel := context.WithTimeout(ctx, nc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, nc.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.SetBasicAuth(nc.username, nc.password)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf(`"CUCM:DB ver=%s %s"`, nc.apiVersion, operation))

	started := time.Now()
	resp, err := nc.httpClient.Do(req)
	if err != nil {
		nc.decorateLog(log.Logger.Debug, operation).Err(err).Msg("AXL request failed")
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	nc.decorateLog(log.Logger.Trace, operation).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("AXL response received")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnauthorized, nc.node.Host, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, transient(fmt.Errorf("%s throttled by %s", operation, nc.node.Host))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	root, parseErr := parseXML(bytes.NewReader(payload))
	var body *xmlNode
	if parseErr == nil {
		body, parseErr = soapBody(root)
	}

	if parseErr == nil && body.name == "Fault" {
		return nil, faultError(body)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, transient(fmt.Errorf("%s returned %d", nc.node.Host, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedReply, nc.node.Host, resp.StatusCode)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return body, nil
}

// decorateLog adds the node fields shared by every AXL log line.
func (nc *nodeClient) decorateLog(eventFactory func() *zerolog.Event, event string) *zerolog.Event {
	return eventFactory().
		Str("node", nc.node.Name).
		Str("host", nc.node.Host).
		Str("api_version", nc.apiVersion).
		Str("event", event)
}
