// Package lcd implements the gateway.Upstream interface against the REST
// (LCD) endpoint of a Cosmos SDK full node: CosmWasm smart queries and
// paginated transaction-event searches.
package lcd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Illiquidly/marketwatch/internal/gateway"

	"github.com/hashicorp/go-retryablehttp"
)

// client implements the gateway.Upstream interface over HTTP. It performs no
// retries of its own: the injected HTTP client is expected to be built with
// retries disabled, and retry policy stays with the callers.
type client struct {
	endpoints map[string]string     // network -> LCD base URL
	http      *retryablehttp.Client // underlying HTTP client
}

// Ensure client implements the gateway.Upstream interface at compile time.
var _ gateway.Upstream = (*client)(nil)

// errorResponse is the LCD's gRPC-gateway error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// smartQueryResponse wraps the contract's reply under "data".
type smartQueryResponse struct {
	Data json.RawMessage `json:"data"`
}

// txSearchResponse is the tx service's GetTxsEvent response, reduced to the
// fields the gateway exposes.
type txSearchResponse struct {
	TxResponses []gateway.TxResponse `json:"tx_responses"`
	Pagination  struct {
		Total uint64 `json:"total,string"`
	} `json:"pagination"`
}

// NewClient creates an LCD upstream for the given network-to-base-URL table
// using the provided HTTP client.
func NewClient(endpoints map[string]string, httpClient *retryablehttp.Client) *client {
	normalized := make(map[string]string, len(endpoints))
	for network, base := range endpoints {
		normalized[network] = strings.TrimRight(base, "/")
	}

	return &client{
		endpoints: normalized,
		http:      httpClient,
	}
}

// SmartContractQuery executes a CosmWasm smart query via
// GET /cosmwasm/wasm/v1/contract/{contract}/smart/{base64(query)} and
// returns the raw JSON under the response's "data" field.
func (c *client) SmartContractQuery(ctx context.Context, network, contract string, query json.RawMessage) (json.RawMessage, error) {
	base, ok := c.endpoints[network]
	if !ok {
		return nil, fmt.Errorf("lcd endpoint for %q: %w", network, gateway.ErrUnknownNetwork)
	}

	encoded := url.PathEscape(base64.StdEncoding.EncodeToString(query))
	uri := fmt.Sprintf("%s/cosmwasm/wasm/v1/contract/%s/smart/%s", base, contract, encoded)

	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var resp smartQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode smart query response: %w", err)
	}
	return resp.Data, nil
}

// TxSearch returns one page of transactions matching the event filter via
// GET /cosmos/tx/v1beta1/txs, ordered ascending by height so pagination
// offsets stay stable for a fixed filter.
func (c *client) TxSearch(ctx context.Context, network, filter string, offset, limit uint64) (gateway.TxPage, error) {
	base, ok := c.endpoints[network]
	if !ok {
		return gateway.TxPage{}, fmt.Errorf("lcd endpoint for %q: %w", network, gateway.ErrUnknownNetwork)
	}

	params := url.Values{}
	params.Set("events", filter)
	params.Set("pagination.offset", strconv.FormatUint(offset, 10))
	params.Set("pagination.limit", strconv.FormatUint(limit, 10))
	params.Set("order_by", "ORDER_BY_ASC")

	body, err := c.get(ctx, base+"/cosmos/tx/v1beta1/txs?"+params.Encode())
	if err != nil {
		return gateway.TxPage{}, err
	}

	var resp txSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return gateway.TxPage{}, fmt.Errorf("decode tx search response: %w", err)
	}

	return gateway.TxPage{
		Txs:   resp.TxResponses,
		Total: resp.Pagination.Total,
	}, nil
}

// get performs one GET request and returns the response body, translating
// LCD error bodies into the gateway's sentinel errors.
func (c *client) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lcd request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read lcd response: %w", err)
	}

	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return body, nil
	}

	if res.StatusCode == http.StatusNotFound {
		return nil, gateway.ErrNotFound
	}

	var lcdErr errorResponse
	if err := json.Unmarshal(body, &lcdErr); err == nil && strings.Contains(strings.ToLower(lcdErr.Message), "not found") {
		return nil, fmt.Errorf("%s: %w", lcdErr.Message, gateway.ErrNotFound)
	}

	return nil, fmt.Errorf("lcd responded %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
}
