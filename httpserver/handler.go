package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/storage-distribution/api"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/ruteri/storage-distribution/workspace"
)

// maxJSONBodySize bounds JSON request bodies (1MB).
const maxJSONBodySize = 1024 * 1024

const anonymousRequester = "anonymous"

// Handler exposes a StorageDistribution over HTTP.
type Handler struct {
	dist          interfaces.StorageDistribution
	spoolDir      string
	maxObjectSize int64
	log           *slog.Logger
}

// NewHandler creates a handler. Uploaded objects are spooled under spoolDir
// (the system temporary directory when empty) and limited to maxObjectSize
// bytes when it is positive.
func NewHandler(dist interfaces.StorageDistribution, spoolDir string, maxObjectSize int64, log *slog.Logger) *Handler {
	return &Handler{
		dist:          dist,
		spoolDir:      spoolDir,
		maxObjectSize: maxObjectSize,
		log:           log,
	}
}

// Routes mounts the storage API under api.BasePath.
func (h *Handler) Routes(r chi.Router) {
	r.Route(api.BasePath+"/strategies/{strategy}", func(r chi.Router) {
		r.Route("/objects/{category}/{object_id}", func(r chi.Router) {
			r.Post("/", h.HandleStore)
			r.Put("/", h.HandleUpload)
			r.Get("/", h.HandleRetrieve)
			r.Delete("/", h.HandleDelete)
			r.Get("/exists", h.HandleCheckExisting)
			r.Get("/info", h.HandleObjectInformation)
			r.Post("/copy", h.HandleCopy)
		})
		r.Post("/bulk", h.HandleBulkStore)
		r.Post("/info/{category}", h.HandleBatchInformation)
		r.Get("/containers/{category}", h.HandleListContainer)
		r.Get("/logs/{category}", h.HandleOfferLogs)
		r.Get("/capacity", h.HandleCapacity)
		r.Post("/offers/{offer}/read-orders", h.HandleCreateReadOrder)
		r.Get("/offers/{offer}/read-orders/{order_id}", h.HandleCheckReadOrder)
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrStrategyNotFound),
		errors.Is(err, interfaces.ErrOfferNotFound),
		errors.Is(err, interfaces.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrObjectAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrIllegalArgument),
		errors.Is(err, interfaces.ErrPreconditionFailed):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrOperationUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Storage request failed", "err", err, slog.String("path", r.URL.Path))
	} else {
		h.log.Debug("Storage request rejected", "err", err, slog.String("path", r.URL.Path), slog.Int("status", status))
	}
	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize)).Decode(v); err != nil {
		return errors.Join(interfaces.ErrIllegalArgument, err)
	}
	return nil
}

func tenantOf(r *http.Request) (int, error) {
	raw := r.Header.Get(api.TenantHeader)
	if raw == "" {
		return 0, errors.Join(interfaces.ErrIllegalArgument, errors.New("missing "+api.TenantHeader+" header"))
	}
	tenant, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(interfaces.ErrIllegalArgument, errors.New("invalid "+api.TenantHeader+" header"))
	}
	return tenant, nil
}

func requesterOf(r *http.Request) string {
	if requester := r.Header.Get(api.RequesterHeader); requester != "" {
		return requester
	}
	return anonymousRequester
}

// offerIDsOf parses the comma-separated offer list header. An absent header
// means every offer of the strategy.
func offerIDsOf(r *http.Request) []string {
	raw := r.Header.Get(api.OfferIDsHeader)
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func categoryOf(r *http.Request) interfaces.DataCategory {
	return interfaces.DataCategory(strings.ToUpper(chi.URLParam(r, "category")))
}

func dataContextOf(r *http.Request) (interfaces.DataContext, error) {
	tenant, err := tenantOf(r)
	if err != nil {
		return interfaces.DataContext{}, err
	}
	return interfaces.DataContext{
		ObjectID:  chi.URLParam(r, "object_id"),
		Category:  categoryOf(r),
		Requester: requesterOf(r),
		Tenant:    tenant,
	}, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(interfaces.ErrIllegalArgument, errors.New("invalid "+name+" parameter"))
	}
	return v, nil
}

// HandleStore copies a workspace object to every offer of the strategy.
//
// URL format: POST /api/storage/v1/strategies/{strategy}/objects/{category}/{object_id}
// Request body: api.StoreRequest
// Response: 201 with interfaces.StoredInfoResult
func (h *Handler) HandleStore(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.StoreRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	desc := interfaces.ObjectDescription{WorkspaceContainer: req.WorkspaceContainer, WorkspaceObjectURI: req.WorkspaceObjectURI}
	res, err := h.dist.StoreInAllOffers(r.Context(), chi.URLParam(r, "strategy"), dc, desc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleUpload stores the request body in the offers of X-Offer-Ids, or in
// every offer of the strategy. The body is spooled first so that each retry
// reads it again from the start.
//
// URL format: PUT /api/storage/v1/strategies/{strategy}/objects/{category}/{object_id}
// Response: 201 with interfaces.StoredInfoResult
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.maxObjectSize > 0 && r.ContentLength > h.maxObjectSize {
		h.writeError(w, r, errors.Join(interfaces.ErrIllegalArgument, errors.New("object too large")))
		return
	}
	spool, err := workspace.NewSpool(r.Context(), r.Body, h.spoolDir, h.maxObjectSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer func() {
		if err := spool.Remove(); err != nil {
			h.log.Warn("Failed to remove spool file", "err", err)
		}
	}()

	res, err := h.dist.StoreInOffers(r.Context(), chi.URLParam(r, "strategy"), dc, offerIDsOf(r), spool.Provider())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleRetrieve streams the object from the first offer that serves it, or
// from the offer named by the offer query parameter.
func (h *Handler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.Retrieve(r.Context(), chi.URLParam(r, "strategy"), dc, r.URL.Query().Get("offer"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer res.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(api.OfferIDHeader, res.OfferID)
	if res.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Body); err != nil {
		h.log.Warn("Object stream interrupted",
			"err", err,
			slog.String("object", dc.Ref().String()),
			slog.String("offer", res.OfferID))
	}
}

// HandleDelete removes the object from the offers of X-Offer-Ids, or from
// every offer of the strategy. Partial failures answer 500 with the
// per-offer outcomes.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.DeleteInOffers(r.Context(), chi.URLParam(r, "strategy"), dc, offerIDsOf(r))
	if err != nil && res != nil {
		h.log.Error("Delete failed on some offers", "err", err, slog.String("object", dc.Ref().String()))
		writeJSON(w, statusFor(err), res)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleCheckExisting(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.CheckExisting(r.Context(), chi.URLParam(r, "strategy"), dc, offerIDsOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleObjectInformation(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.GetObjectInformation(r.Context(), chi.URLParam(r, "strategy"), dc, offerIDsOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCopy replaces the destination copy of an object with the source copy.
//
// Request body: api.CopyRequest
// Response: 201 with interfaces.StoredInfoResult
func (h *Handler) HandleCopy(w http.ResponseWriter, r *http.Request) {
	dc, err := dataContextOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.CopyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.CopyObjectFromOfferToOffer(r.Context(), chi.URLParam(r, "strategy"), dc, req.SourceOfferID, req.DestinationOfferID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleBulkStore stores several workspace objects. When the bulk stops
// early, the error status is returned with the objects stored so far.
//
// Request body: api.BulkStoreRequest
// Response: 201 with interfaces.BulkStoreResponse
func (h *Handler) HandleBulkStore(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.BulkStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	bulk := interfaces.BulkStoreRequest{
		Tenant:              tenant,
		Requester:           requesterOf(r),
		Category:            interfaces.DataCategory(strings.ToUpper(string(req.Category))),
		WorkspaceContainer:  req.WorkspaceContainer,
		ObjectIDs:           req.ObjectIDs,
		WorkspaceObjectURIs: req.WorkspaceObjectURIs,
	}
	res, err := h.dist.BulkStoreFromSource(r.Context(), chi.URLParam(r, "strategy"), bulk)
	if err != nil && res != nil && len(res.Objects) > 0 {
		h.log.Error("Bulk store stopped", "err", err, slog.Int("stored", len(res.Objects)))
		writeJSON(w, statusFor(err), res)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleBatchInformation returns per-offer metadata for several objects.
//
// Request body: api.BatchInfoRequest
func (h *Handler) HandleBatchInformation(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.BatchInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.GetBatchObjectInformation(r.Context(), chi.URLParam(r, "strategy"), tenant, categoryOf(r), req.ObjectIDs, offerIDsOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleListContainer returns one page of a container listing.
//
// Query parameters: offer, cursor, limit
func (h *Handler) HandleListContainer(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.dist.ListContainerObjects(r.Context(), chi.URLParam(r, "strategy"), q.Get("offer"), tenant, categoryOf(r), q.Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleOfferLogs returns a window of an offer journal.
//
// Query parameters: offer, offset, limit, order (asc|desc)
func (h *Handler) HandleOfferLogs(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	req := interfaces.OfferLogRequest{
		Tenant:   tenant,
		Category: categoryOf(r),
		Limit:    limit,
		Order:    interfaces.OrderAscending,
	}
	if q.Get("order") == string(interfaces.OrderDescending) {
		req.Order = interfaces.OrderDescending
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, errors.Join(interfaces.ErrIllegalArgument, errors.New("invalid offset parameter")))
			return
		}
		req.Offset = &offset
	}
	res, err := h.dist.GetOfferLogsByOfferID(r.Context(), chi.URLParam(r, "strategy"), q.Get("offer"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleCapacity(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.dist.GetContainerInformation(r.Context(), chi.URLParam(r, "strategy"), tenant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCreateReadOrder asks an asynchronous offer to stage objects.
//
// Request body: api.ReadOrderRequest
// Response: 202 with interfaces.ReadOrder
func (h *Handler) HandleCreateReadOrder(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.ReadOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	category := interfaces.DataCategory(strings.ToUpper(string(req.Category)))
	res, err := h.dist.CreateReadOrder(r.Context(), chi.URLParam(r, "strategy"), chi.URLParam(r, "offer"), tenant, category, req.ObjectIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) HandleCheckReadOrder(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offerID := chi.URLParam(r, "offer")
	orderID := chi.URLParam(r, "order_id")
	complete, err := h.dist.CheckReadOrder(r.Context(), chi.URLParam(r, "strategy"), offerID, tenant, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ReadOrderStatus{OrderID: orderID, OfferID: offerID, Complete: complete})
}
