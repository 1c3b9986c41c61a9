/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes stock levels, movement operations, transaction history and
  location administration over REST. Handles HTTP request/response, JSON
  serialization and validation, and delegates to the domain packages.

ENDPOINTS:
  Stock:
    GET    /api/stock/{type}/{id}                      Availability (level, in stock)
    GET    /api/stock/{type}/{id}/transaction-location Where a new transaction would go
    GET    /api/levels/{location}/{entity}             Checkpoint and current level

  Movements:
    POST   /api/movements/receive    New stock arriving
    POST   /api/movements/sell       Stock leaving through an order
    POST   /api/movements/return     Stock coming back from an order
    POST   /api/movements/move       Transfer between locations
    POST   /api/movements/adjust     Signed manual correction

  Transactions:
    GET    /api/transactions              History (location, entity, after, limit)
    POST   /api/transactions              Raw transaction
    GET    /api/transactions/{id}         Single transaction
    POST   /api/transactions/movement     Both legs of a move

  Locations:
    GET    /api/locations            Active locations (?all=true for all)
    POST   /api/locations            Create location
    GET    /api/locations/{id}       Get location
    PUT    /api/locations/{id}       Update location (soft deactivation)

  Admin:
    POST   /api/admin/catch-up                          Catch up stale levels
    POST   /api/admin/levels/{location}/{entity}/catch-up Catch up one level
    POST   /api/admin/prune                             Retention prune for one key

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Services: service registry (resolution + dispatch)
  - Movements: movement operations
  - Ledger/Aggregator: local history, checkpoints, retention
  - Locations: location administration (cached)

ERROR HANDLING:
  Domain errors map to HTTP status in writeDomainError:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Duplicate idempotency key, checkpoint conflict, retention violation
  - 422: Configuration error (no service or no location resolvable)
  - 503: Retryable storage failure
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/movement"
	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/stock"
)

const defaultCatchUpBatch = 500

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// LocationAdmin is the location administration the API needs.
// service/local.LocationCache implements it.
type LocationAdmin interface {
	Active(ctx context.Context) ([]stock.Location, error)
	List(ctx context.Context) ([]stock.Location, error)
	Get(ctx context.Context, id stock.LocationID) (stock.Location, error)
	Save(ctx context.Context, loc stock.Location) (stock.Location, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services   *service.Registry
	Movements  *movement.Operations
	Ledger     *stock.Ledger
	Aggregator *stock.Aggregator
	Locations  LocationAdmin

	// Health is optional; without it /health only reports liveness.
	Health Pinger

	// Reset enables demo scenarios when set.
	Reset           Resetter
	scenarioMu      sync.Mutex
	currentScenario string

	// Retention is the default age for prune requests without "before".
	Retention    time.Duration
	CatchUpBatch int

	Logger zerolog.Logger
	Now    func() time.Time

	validate *validator.Validate
}

// NewHandler creates a handler over the given components.
func NewHandler(services *service.Registry, movements *movement.Operations, ledger *stock.Ledger, agg *stock.Aggregator, locations LocationAdmin, logger zerolog.Logger) *Handler {
	return &Handler{
		Services:     services,
		Movements:    movements,
		Ledger:       ledger,
		Aggregator:   agg,
		Locations:    locations,
		CatchUpBatch: defaultCatchUpBatch,
		Logger:       logger,
		Now:          time.Now,
		validate:     validator.New(),
	}
}

// HealthCheck reports liveness and, when configured, storage reachability.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// GetStockLevel returns availability for an entity. Explicit ?location=
// values replace the resolved availability locations.
func (h *Handler) GetStockLevel(w http.ResponseWriter, r *http.Request) {
	entity := entityFromPath(r)
	locations, err := locationParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid location", err)
		return
	}

	avail, err := h.Services.Availability(r.Context(), entity, contextParams(r), locations)
	if err != nil {
		h.writeDomainError(w, "Failed to get stock level", err)
		return
	}

	writeJSON(w, http.StatusOK, StockLevelDTO{
		EntityID:      string(entity.ID),
		EntityType:    string(entity.Type),
		ServiceID:     avail.ServiceID,
		Level:         avail.Level,
		InStock:       avail.InStock,
		AlwaysInStock: avail.AlwaysInStock,
		Locations:     toLocationIDs(avail.Locations),
	})
}

// GetTransactionLocation resolves where a transaction of ?quantity= (default 1)
// would be written.
func (h *Handler) GetTransactionLocation(w http.ResponseWriter, r *http.Request) {
	entity := entityFromPath(r)
	qty := decimal.NewFromInt(1)
	if s := r.URL.Query().Get("quantity"); s != "" {
		var err error
		if qty, err = decimal.NewFromString(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid quantity", err)
			return
		}
	}

	loc, err := h.Services.TransactionLocation(r.Context(), entity, contextParams(r), qty)
	if err != nil {
		h.writeDomainError(w, "Failed to resolve transaction location", err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

// GetLevel shows the checkpoint for one key next to its current level.
func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	key, err := levelKeyFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid level key", err)
		return
	}

	cp, err := h.Aggregator.Levels.GetLevel(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, "Failed to get checkpoint", stock.WrapStorage("get level", err))
		return
	}
	level, err := h.Aggregator.LocationStockLevel(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, "Failed to get level", err)
		return
	}

	writeJSON(w, http.StatusOK, LevelDTO{
		LocationID:        int64(key.LocationID),
		EntityID:          string(key.EntityID),
		CheckpointQty:     cp.Qty,
		LastTransactionID: int64(cp.LastTransactionID),
		Level:             level,
	})
}

// ListServices returns the registered stock services.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Services.Infos())
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Movements.Receive)
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Movements.Sell)
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Movements.Return)
}

func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Movements.Adjust)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op func(context.Context, movement.Request) (stock.Transaction, error)) {
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := op(r.Context(), movement.Request{
		Entity:         stock.Entity{ID: stock.EntityID(req.EntityID), Type: stock.EntityType(req.EntityType), Bundle: req.Bundle},
		Context:        stock.Context{UserID: req.UserID, StoreID: req.StoreID},
		LocationID:     stock.LocationID(req.LocationID),
		Zone:           req.Zone,
		Quantity:       req.Quantity,
		UnitCost:       nullDecimal(req.UnitCost),
		CurrencyCode:   req.CurrencyCode,
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, ToTransactionDTO(tx))
}

// Move transfers stock between two locations.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Movements.Move(r.Context(), movement.MoveRequest{
		Entity:         stock.Entity{ID: stock.EntityID(req.EntityID), Type: stock.EntityType(req.EntityType), Bundle: req.Bundle},
		Context:        stock.Context{UserID: req.UserID, StoreID: req.StoreID},
		FromLocationID: stock.LocationID(req.FromLocationID),
		ToLocationID:   stock.LocationID(req.ToLocationID),
		FromZone:       req.FromZone,
		ToZone:         req.ToZone,
		Quantity:       req.Quantity,
		UnitCost:       nullDecimal(req.UnitCost),
		CurrencyCode:   req.CurrencyCode,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to move stock", err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementLegsResponse{
		MoveID: res.MoveID,
		From:   ToTransactionDTO(res.From),
		To:     ToTransactionDTO(res.To),
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns history, oldest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter stock.TransactionFilter

	if s := q.Get("location"); s != "" {
		loc, err := stock.ParseLocationID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid location", err)
			return
		}
		filter.LocationID = loc
	}
	filter.EntityID = stock.EntityID(q.Get("entity"))
	if s := q.Get("after"); s != "" {
		after, err := strconv.ParseInt(s, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "Invalid after", err)
			return
		}
		filter.AfterID = stock.TransactionID(after)
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	txs, err := h.Ledger.Transactions(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid transaction id", err)
		return
	}

	tx, err := h.Ledger.Get(r.Context(), stock.TransactionID(id))
	if err != nil {
		h.writeDomainError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, ToTransactionDTO(*tx))
}

// CreateTransaction writes a raw transaction through the entity's service.
// A zero location_id is resolved the same way movement operations do it.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := req.Transaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	entity := req.Entity()
	svc, err := h.Services.Resolve(entity)
	if err != nil {
		h.writeDomainError(w, "Failed to resolve service", err)
		return
	}
	if tx.LocationID == 0 {
		if tx.LocationID, err = h.resolveLocation(r.Context(), svc, entity, stock.Context{UserID: req.UserID, StoreID: req.StoreID}, tx.Quantity); err != nil {
			h.writeDomainError(w, "Failed to resolve location", err)
			return
		}
	}

	written, err := svc.CreateTransaction(r.Context(), tx)
	if err != nil {
		h.writeDomainError(w, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, ToTransactionDTO(written))
}

// CreateMovementLegs writes two prepared move legs atomically. Remote
// backends call this; people use /api/movements/move.
func (h *Handler) CreateMovementLegs(w http.ResponseWriter, r *http.Request) {
	var req MovementLegsRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, err := req.From.Transaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from leg", err)
		return
	}
	to, err := req.To.Transaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to leg", err)
		return
	}

	svc, err := h.Services.Resolve(req.From.Entity())
	if err != nil {
		h.writeDomainError(w, "Failed to resolve service", err)
		return
	}
	legA, legB, err := svc.CreateMovement(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to create movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementLegsResponse{
		MoveID: legA.Metadata[stock.MetaMoveID],
		From:   ToTransactionDTO(legA),
		To:     ToTransactionDTO(legB),
	})
}

func (h *Handler) resolveLocation(ctx context.Context, svc service.Service, entity stock.Entity, sc stock.Context, qty decimal.Decimal) (stock.LocationID, error) {
	loc, err := svc.TransactionLocation(ctx, entity, sc, qty)
	if err != nil {
		return 0, err
	}
	if loc != nil {
		return loc.ID, nil
	}
	always, err := svc.IsAlwaysInStock(ctx, entity)
	if err != nil {
		return 0, err
	}
	if always {
		return 0, nil
	}
	return 0, &stock.ConfigurationError{Entity: entity, Reason: "no transaction location resolvable"}
}

// =============================================================================
// LOCATION HANDLERS
// =============================================================================

// ListLocations returns active locations, or all with ?all=true.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	var (
		locs []stock.Location
		err  error
	)
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		locs, err = h.Locations.List(r.Context())
	} else {
		locs, err = h.Locations.Active(r.Context())
	}
	if err != nil {
		h.writeDomainError(w, "Failed to list locations", err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTOs(locs))
}

// GetLocation returns a single location.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id, err := stock.ParseLocationID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid location id", err)
		return
	}
	loc, err := h.Locations.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get location", err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

// CreateLocation creates a location, active unless stated otherwise.
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req SaveLocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	loc := stock.Location{Name: req.Name, Active: true, OwnerID: req.OwnerID}
	if req.Active != nil {
		loc.Active = *req.Active
	}

	saved, err := h.Locations.Save(r.Context(), loc)
	if err != nil {
		h.writeDomainError(w, "Failed to create location", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLocationDTO(saved))
}

// UpdateLocation renames or (de)activates a location. Deactivation is soft:
// history and checkpoints are kept.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := stock.ParseLocationID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid location id", err)
		return
	}
	var req SaveLocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	loc, err := h.Locations.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get location", err)
		return
	}
	loc.Name = req.Name
	loc.OwnerID = req.OwnerID
	if req.Active != nil {
		loc.Active = *req.Active
	}

	saved, err := h.Locations.Save(r.Context(), loc)
	if err != nil {
		h.writeDomainError(w, "Failed to update location", err)
		return
	}

	h.Logger.Info().
		Int64("location_id", int64(saved.ID)).
		Bool("active", saved.Active).
		Msg("location updated")
	writeJSON(w, http.StatusOK, toLocationDTO(saved))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CatchUpStale folds new transactions into stale checkpoints. The body is
// optional.
func (h *Handler) CatchUpStale(w http.ResponseWriter, r *http.Request) {
	var req CatchUpRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = h.CatchUpBatch
	}

	n, err := h.Aggregator.CatchUpStale(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to catch up levels", err)
		return
	}
	writeJSON(w, http.StatusOK, CatchUpResponse{CaughtUp: n})
}

// CatchUpLevel folds new transactions into one checkpoint.
func (h *Handler) CatchUpLevel(w http.ResponseWriter, r *http.Request) {
	key, err := levelKeyFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid level key", err)
		return
	}

	cp, err := h.Aggregator.UpdateLocationLevel(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, "Failed to catch up level", err)
		return
	}
	writeJSON(w, http.StatusOK, LevelDTO{
		LocationID:        int64(key.LocationID),
		EntityID:          string(key.EntityID),
		CheckpointQty:     cp.Qty,
		LastTransactionID: int64(cp.LastTransactionID),
		Level:             cp.Qty,
	})
}

// Prune deletes folded history older than "before" for one key.
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if !h.decode(w, r, &req) {
		return
	}

	var before time.Time
	switch {
	case req.Before != nil:
		before = *req.Before
	case h.Retention > 0:
		before = h.now().Add(-h.Retention)
	default:
		writeError(w, http.StatusBadRequest, "before is required when no retention is configured", nil)
		return
	}

	key := stock.LevelKey{LocationID: stock.LocationID(req.LocationID), EntityID: stock.EntityID(req.EntityID)}
	n, err := h.Aggregator.Prune(r.Context(), key, before)
	if err != nil {
		h.writeDomainError(w, "Failed to prune transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Deleted: n, Before: before})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: statusCode(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status for a domain error. Conflicts are
// checked before retryable errors: a storage-wrapped duplicate key is
// still a 409.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var status int
	switch {
	case stock.IsClientError(err):
		status = http.StatusBadRequest
	case stock.IsConfigurationError(err):
		status = http.StatusUnprocessableEntity
	case stock.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, stock.ErrDuplicateIdempotencyKey),
		errors.Is(err, stock.ErrConcurrentModification),
		errors.Is(err, stock.ErrRetentionViolation):
		status = http.StatusConflict
	case stock.IsRetryable(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		h.Logger.Error().Err(err).Int("status", status).Msg(message)
	}
	writeError(w, status, message, err)
}

// statusCode is the machine-readable code sent next to each status.
func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "configuration_error"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// decode reads a JSON body into dst and validates it. An empty body leaves
// dst at its zero value. It writes the 400 itself and reports false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if h.validate == nil {
		h.validate = validator.New()
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    statusCode(http.StatusBadRequest),
				Details: fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func entityFromPath(r *http.Request) stock.Entity {
	return stock.Entity{
		ID:     stock.EntityID(chi.URLParam(r, "id")),
		Type:   stock.EntityType(chi.URLParam(r, "type")),
		Bundle: r.URL.Query().Get("bundle"),
	}
}

func contextParams(r *http.Request) stock.Context {
	q := r.URL.Query()
	return stock.Context{UserID: q.Get("user"), StoreID: q.Get("store")}
}

// locationParams parses repeated or comma-separated ?location= values.
// No values returns nil, meaning "resolve the availability locations".
func locationParams(r *http.Request) ([]stock.LocationID, error) {
	var ids []stock.LocationID
	for _, v := range r.URL.Query()["location"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			id, err := stock.ParseLocationID(s)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func levelKeyFromPath(r *http.Request) (stock.LevelKey, error) {
	loc, err := stock.ParseLocationID(chi.URLParam(r, "location"))
	if err != nil {
		return stock.LevelKey{}, err
	}
	entity := chi.URLParam(r, "entity")
	if entity == "" {
		return stock.LevelKey{}, fmt.Errorf("entity id is required")
	}
	return stock.LevelKey{LocationID: loc, EntityID: stock.EntityID(entity)}, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
