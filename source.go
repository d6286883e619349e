package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fortio.org/safecast"
	"golang.org/x/sync/singleflight"
)

// InterfaceSource fetches module interfaces.
// Implementations return an error matching ErrModuleNotFound when the
// module does not exist.
type InterfaceSource interface {
	FetchModule(ctx context.Context, id ModuleID) (*MoveModule, error)
}

// LedgerSource supplies the chain state needed to fill in a raw
// transaction.
type LedgerSource interface {
	SequenceNumber(ctx context.Context, account AccountAddress) (uint64, error)
	ChainID(ctx context.Context) (uint8, error)
	EstimateGasPrice(ctx context.Context) (uint64, error)
}

// StaticSource serves module interfaces from memory.
// It is safe for concurrent use.
type StaticSource struct {
	mu      sync.RWMutex
	modules map[ModuleID]*MoveModule
}

// NewStaticSource creates a source holding the given modules.
func NewStaticSource(modules ...*MoveModule) *StaticSource {
	s := &StaticSource{modules: make(map[ModuleID]*MoveModule, len(modules))}
	for _, m := range modules {
		s.Add(m)
	}
	return s
}

// Add registers or replaces a module.
func (s *StaticSource) Add(m *MoveModule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.ID()] = m
}

func (s *StaticSource) FetchModule(_ context.Context, id ModuleID) (*MoveModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, &ModuleNotFoundError{Module: id}
	}
	return m, nil
}

// NodeError is a non-success response from a fullnode.
type NodeError struct {
	StatusCode int
	Message    string
	ErrorCode  string
}

func (e *NodeError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("composer: node returned %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("composer: node returned %d: %s", e.StatusCode, e.Message)
}

// NodeClient talks to the REST API of a fullnode. It implements both
// InterfaceSource and LedgerSource and is safe for concurrent use.
// Identical concurrent module fetches share one request.
type NodeClient struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	group   singleflight.Group
}

// NodeClientOption configures a NodeClient.
type NodeClientOption func(*NodeClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) NodeClientOption {
	return func(c *NodeClient) {
		c.http = client
	}
}

// WithNodeLogger sets the logger for request tracing.
func WithNodeLogger(logger *slog.Logger) NodeClientOption {
	return func(c *NodeClient) {
		c.logger = logger
	}
}

// NewNodeClient creates a client for the API rooted at nodeURL, for example
// "https://fullnode.mainnet.aptoslabs.com/v1". apiKey may be empty.
func NewNodeClient(nodeURL, apiKey string, opts ...NodeClientOption) (*NodeClient, error) {
	u, err := url.Parse(strings.TrimRight(nodeURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("composer: invalid node URL %q: %w", nodeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("composer: invalid node URL %q: scheme must be http or https", nodeURL)
	}
	c := &NodeClient{
		baseURL: u,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// moduleResponse is the body of GET /accounts/{address}/module/{name}.
type moduleResponse struct {
	Bytecode string      `json:"bytecode"`
	ABI      *MoveModule `json:"abi"`
}

// FetchModule returns the ABI of id. The shared request is detached from
// the cancellation of any one caller and bounded by the HTTP client timeout;
// each caller stops waiting when its own ctx is done.
func (c *NodeClient) FetchModule(ctx context.Context, id ModuleID) (*MoveModule, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id.String(), func() (any, error) {
		var resp moduleResponse
		err := c.get(detached, &resp, "accounts", id.Address.StringLong(), "module", id.Name)
		if err != nil {
			var ne *NodeError
			if errors.As(err, &ne) && ne.StatusCode == http.StatusNotFound {
				return nil, &ModuleNotFoundError{Module: id, Err: err}
			}
			return nil, err
		}
		if resp.ABI == nil {
			return nil, &ModuleNotFoundError{Module: id, Err: fmt.Errorf("response has no abi")}
		}
		return resp.ABI, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c.logger.DebugContext(ctx, "fetched module interface", "module", id.String(), "shared", res.Shared)
		return res.Val.(*MoveModule), nil
	}
}

func (c *NodeClient) SequenceNumber(ctx context.Context, account AccountAddress) (uint64, error) {
	var resp struct {
		SequenceNumber string `json:"sequence_number"`
	}
	if err := c.get(ctx, &resp, "accounts", account.StringLong()); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(resp.SequenceNumber, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("composer: invalid sequence number %q: %w", resp.SequenceNumber, err)
	}
	return n, nil
}

func (c *NodeClient) ChainID(ctx context.Context) (uint8, error) {
	var resp struct {
		ChainID int `json:"chain_id"`
	}
	if err := c.get(ctx, &resp); err != nil {
		return 0, err
	}
	id, err := safecast.Conv[uint8](resp.ChainID)
	if err != nil {
		return 0, fmt.Errorf("composer: invalid chain id %d: %w", resp.ChainID, err)
	}
	return id, nil
}

func (c *NodeClient) EstimateGasPrice(ctx context.Context) (uint64, error) {
	var resp struct {
		GasEstimate uint64 `json:"gas_estimate"`
	}
	if err := c.get(ctx, &resp, "estimate_gas_price"); err != nil {
		return 0, err
	}
	return resp.GasEstimate, nil
}

// get issues GET {base}/{segments...} and decodes the JSON body into out.
func (c *NodeClient) get(ctx context.Context, out any, segments ...string) error {
	u := c.baseURL.JoinPath(segments...)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("composer: GET %s: %w", u.Path, err)
	}
	defer resp.Body.Close()
	c.logger.DebugContext(ctx, "node request", "path", u.Path, "status", resp.StatusCode, "elapsed", time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("composer: read %s: %w", u.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ne := &NodeError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var apiErr struct {
			Message   string `json:"message"`
			ErrorCode string `json:"error_code"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			ne.Message, ne.ErrorCode = apiErr.Message, apiErr.ErrorCode
		}
		return ne
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("composer: decode %s: %w", u.Path, err)
	}
	return nil
}
