package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/storage-distribution/api"
	"github.com/ruteri/storage-distribution/interfaces"
)

// DistributionClient talks to a storage distribution server.
type DistributionClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ interfaces.StorageDistribution = (*DistributionClient)(nil)

// NewDistributionClient creates a client for the server at baseURL
// (e.g., "http://localhost:8080"). A zero timeout means none, which
// large transfers need.
func NewDistributionClient(baseURL string, timeout time.Duration) *DistributionClient {
	return &DistributionClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type request struct {
	method string
	path   string
	query  url.Values
	body   io.Reader
	json   any
	tenant int
	caller string
	offers []string
	size   int64
}

func (c *DistributionClient) strategyPath(strategyID string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(strategyID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return api.BasePath + "/strategies/" + strings.Join(escaped, "/")
}

func objectParts(dc interfaces.DataContext, suffix ...string) []string {
	return append([]string{"objects", strings.ToLower(string(dc.Category)), dc.ObjectID}, suffix...)
}

func (c *DistributionClient) do(ctx context.Context, r request) (*http.Response, error) {
	body := r.body
	if r.json != nil {
		data, err := json.Marshal(r.json)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, err
	}
	if r.json != nil {
		req.Header.Set("Content-Type", "application/json")
	} else if r.body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
		if r.size >= 0 {
			req.ContentLength = r.size
		}
	}
	req.Header.Set(api.TenantHeader, strconv.Itoa(r.tenant))
	if r.caller != "" {
		req.Header.Set(api.RequesterHeader, r.caller)
	}
	if len(r.offers) > 0 {
		req.Header.Set(api.OfferIDsHeader, strings.Join(r.offers, ","))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not reach storage server: %w", interfaces.ErrTechnical, err)
	}
	return resp, nil
}

// errorFor turns a non-2xx response into a sentinel-wrapped error and
// closes the body.
func errorFor(resp *http.Response) error {
	defer resp.Body.Close()
	msg := strconv.Itoa(resp.StatusCode)
	var e api.ErrorResponse
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); err == nil {
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		} else if len(data) > 0 {
			msg = strings.TrimSpace(string(data))
		}
	}
	return fmt.Errorf("%w: %s", sentinelFor(resp.StatusCode), msg)
}

func sentinelFor(status int) error {
	switch status {
	case http.StatusNotFound:
		return interfaces.ErrObjectNotFound
	case http.StatusConflict:
		return interfaces.ErrObjectAlreadyExists
	case http.StatusBadRequest:
		return interfaces.ErrIllegalArgument
	case http.StatusForbidden:
		return interfaces.ErrReadOnly
	case http.StatusNotImplemented:
		return interfaces.ErrOperationUnsupported
	default:
		return interfaces.ErrTechnical
	}
}

// call performs r and decodes a JSON response into out.
func (c *DistributionClient) call(ctx context.Context, r request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFor(resp)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: could not parse response: %w", interfaces.ErrTechnical, err)
	}
	return nil
}

// callPartial is call for operations answering an error status together
// with a partial result body. The partial result is returned with the error.
func (c *DistributionClient) callPartial(ctx context.Context, r request, out any) (bool, error) {
	resp, err := c.do(ctx, r)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: could not read response: %w", interfaces.ErrTechnical, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("%w: could not parse response: %w", interfaces.ErrTechnical, err)
		}
		return true, nil
	}
	var e api.ErrorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return false, fmt.Errorf("%w: %s", sentinelFor(resp.StatusCode), e.Error)
	}
	if json.Unmarshal(data, out) == nil {
		return true, fmt.Errorf("%w: partial failure (status %d)", sentinelFor(resp.StatusCode), resp.StatusCode)
	}
	return false, fmt.Errorf("%w: status %d", sentinelFor(resp.StatusCode), resp.StatusCode)
}

func (c *DistributionClient) StoreInAllOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, desc interfaces.ObjectDescription) (*interfaces.StoredInfoResult, error) {
	var res interfaces.StoredInfoResult
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   c.strategyPath(strategyID, objectParts(dc)...),
		json:   api.StoreRequest{WorkspaceContainer: desc.WorkspaceContainer, WorkspaceObjectURI: desc.WorkspaceObjectURI},
		tenant: dc.Tenant,
		caller: dc.Requester,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *DistributionClient) StoreInOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string, source interfaces.StreamProvider) (*interfaces.StoredInfoResult, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: no stream provider", interfaces.ErrIllegalArgument)
	}
	stream, err := source(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Stream.Close()

	var res interfaces.StoredInfoResult
	err = c.call(ctx, request{
		method: http.MethodPut,
		path:   c.strategyPath(strategyID, objectParts(dc)...),
		body:   stream.Stream,
		size:   stream.Size,
		tenant: dc.Tenant,
		caller: dc.Requester,
		offers: offerIDs,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *DistributionClient) BulkStoreFromSource(ctx context.Context, strategyID string, req interfaces.BulkStoreRequest) (*interfaces.BulkStoreResponse, error) {
	var res interfaces.BulkStoreResponse
	ok, err := c.callPartial(ctx, request{
		method: http.MethodPost,
		path:   c.strategyPath(strategyID, "bulk"),
		json:   api.BulkStoreRequest{
			Category:            req.Category,
			WorkspaceContainer:  req.WorkspaceContainer,
			ObjectIDs:           req.ObjectIDs,
			WorkspaceObjectURIs: req.WorkspaceObjectURIs,
		},
		tenant: req.Tenant,
		caller: req.Requester,
	}, &res)
	if !ok {
		return nil, err
	}
	return &res, err
}

func (c *DistributionClient) DeleteInAllOffers(ctx context.Context, strategyID string, dc interfaces.DataContext) (*interfaces.DeleteResult, error) {
	return c.DeleteInOffers(ctx, strategyID, dc, nil)
}

func (c *DistributionClient) DeleteInOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string) (*interfaces.DeleteResult, error) {
	var res interfaces.DeleteResult
	ok, err := c.callPartial(ctx, request{
		method: http.MethodDelete,
		path:   c.strategyPath(strategyID, objectParts(dc)...),
		tenant: dc.Tenant,
		caller: dc.Requester,
		offers: offerIDs,
	}, &res)
	if !ok {
		return nil, err
	}
	return &res, err
}

func (c *DistributionClient) CopyObjectFromOfferToOffer(ctx context.Context, strategyID string, dc interfaces.DataContext, sourceOfferID, destinationOfferID string) (*interfaces.StoredInfoResult, error) {
	var res interfaces.StoredInfoResult
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   c.strategyPath(strategyID, objectParts(dc, "copy")...),
		json:   api.CopyRequest{SourceOfferID: sourceOfferID, DestinationOfferID: destinationOfferID},
		tenant: dc.Tenant,
		caller: dc.Requester,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Retrieve returns the object stream. The caller must close the body.
func (c *DistributionClient) Retrieve(ctx context.Context, strategyID string, dc interfaces.DataContext, offerID string) (*interfaces.GetObjectResult, error) {
	query := url.Values{}
	if offerID != "" {
		query.Set("offer", offerID)
	}
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, objectParts(dc)...),
		query:  query,
		tenant: dc.Tenant,
		caller: dc.Requester,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFor(resp)
	}
	return &interfaces.GetObjectResult{
		OfferID: resp.Header.Get(api.OfferIDHeader),
		Body:    resp.Body,
		Size:    resp.ContentLength,
	}, nil
}

func (c *DistributionClient) CheckExisting(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string) (map[string]bool, error) {
	var res map[string]bool
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, objectParts(dc, "exists")...),
		tenant: dc.Tenant,
		caller: dc.Requester,
		offers: offerIDs,
	}, &res)
	return res, err
}

func (c *DistributionClient) GetObjectInformation(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string) (map[string]*interfaces.ObjectMetadata, error) {
	var res map[string]*interfaces.ObjectMetadata
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, objectParts(dc, "info")...),
		tenant: dc.Tenant,
		caller: dc.Requester,
		offers: offerIDs,
	}, &res)
	return res, err
}

func (c *DistributionClient) GetBatchObjectInformation(ctx context.Context, strategyID string, tenant int, category interfaces.DataCategory, objectIDs, offerIDs []string) ([]interfaces.BatchObjectInformation, error) {
	var res []interfaces.BatchObjectInformation
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   c.strategyPath(strategyID, "info", strings.ToLower(string(category))),
		json:   api.BatchInfoRequest{ObjectIDs: objectIDs},
		tenant: tenant,
		offers: offerIDs,
	}, &res)
	return res, err
}

func (c *DistributionClient) ListContainerObjects(ctx context.Context, strategyID, offerID string, tenant int, category interfaces.DataCategory, cursor string, limit int) (*interfaces.ObjectPage, error) {
	query := url.Values{}
	if offerID != "" {
		query.Set("offer", offerID)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var res interfaces.ObjectPage
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, "containers", strings.ToLower(string(category))),
		query:  query,
		tenant: tenant,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *DistributionClient) GetOfferLogs(ctx context.Context, strategyID string, req interfaces.OfferLogRequest) ([]interfaces.OfferLog, error) {
	return c.GetOfferLogsByOfferID(ctx, strategyID, "", req)
}

func (c *DistributionClient) GetOfferLogsByOfferID(ctx context.Context, strategyID, offerID string, req interfaces.OfferLogRequest) ([]interfaces.OfferLog, error) {
	query := url.Values{}
	if offerID != "" {
		query.Set("offer", offerID)
	}
	if req.Offset != nil {
		query.Set("offset", strconv.FormatInt(*req.Offset, 10))
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Order != "" {
		query.Set("order", string(req.Order))
	}
	var res []interfaces.OfferLog
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, "logs", strings.ToLower(string(req.Category))),
		query:  query,
		tenant: req.Tenant,
	}, &res)
	return res, err
}

func (c *DistributionClient) GetContainerInformation(ctx context.Context, strategyID string, tenant int) ([]interfaces.OfferCapacity, error) {
	var res []interfaces.OfferCapacity
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, "capacity"),
		tenant: tenant,
	}, &res)
	return res, err
}

func (c *DistributionClient) CreateReadOrder(ctx context.Context, strategyID, offerID string, tenant int, category interfaces.DataCategory, objectIDs []string) (*interfaces.ReadOrder, error) {
	var res interfaces.ReadOrder
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   c.strategyPath(strategyID, "offers", offerID, "read-orders"),
		json:   api.ReadOrderRequest{Category: category, ObjectIDs: objectIDs},
		tenant: tenant,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *DistributionClient) CheckReadOrder(ctx context.Context, strategyID, offerID string, tenant int, orderID string) (bool, error) {
	var res api.ReadOrderStatus
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   c.strategyPath(strategyID, "offers", offerID, "read-orders", orderID),
		tenant: tenant,
	}, &res)
	return res.Complete, err
}
