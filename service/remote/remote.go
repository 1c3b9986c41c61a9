/*
Package remote is a stock backend that delegates to another stock engine
over its HTTP API.

USE CASE:
  A storefront process registers this backend for entity types whose
  stock lives in a central engine. Checker, Updater and Configuration all
  become HTTP calls against that engine's /api routes.

TRANSPORT:
  hashicorp/go-retryablehttp retries connection errors, 429 and 5xx with
  backoff. Writes without an idempotency key get one before the first
  attempt, so a retried POST never records a movement twice.

ERRORS:
  The remote error body ({"error","code","details"}) is mapped back to
  the stock sentinels by status:
    400 -> stock.ErrInvalidInput     404 -> the operation's not-found error
    409 -> conflict sentinels        422 -> *stock.ConfigurationError
    5xx and transport failures -> *stock.StorageError (retryable)
*/
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/stock"
)

// ServiceID is the id the remote backend registers under by default.
const ServiceID = "remote_stock"

const (
	defaultTimeout  = 10 * time.Second
	defaultRetryMax = 3
)

// Options configures a remote backend.
type Options struct {
	BaseURL string

	// ID overrides ServiceID, for several remote engines side by side.
	ID    string
	Label string

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger zerolog.Logger
}

// Service implements service.Service against a remote engine.
type Service struct {
	base   *url.URL
	client *retryablehttp.Client
	id     string
	label  string
	logger zerolog.Logger
}

var _ service.Service = (*Service)(nil)

// New validates opts and builds the HTTP client.
func New(opts Options) (*Service, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" || base.RawQuery != "" {
		return nil, fmt.Errorf("%w: remote base url %q", stock.ErrInvalidInput, opts.BaseURL)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = defaultRetryMax
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.HTTPClient.Timeout = defaultTimeout
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.Logger = leveledLogger{opts.Logger}
	// Hand the last response back so its error body can be mapped.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	id := opts.ID
	if id == "" {
		id = ServiceID
	}
	label := opts.Label
	if label == "" {
		label = "Remote stock engine (" + base.Host + ")"
	}

	return &Service{base: base, client: client, id: id, label: label, logger: opts.Logger}, nil
}

func (s *Service) ID() string    { return s.id }
func (s *Service) Label() string { return s.label }

// =============================================================================
// CHECKER
// =============================================================================

func (s *Service) TotalStockLevel(ctx context.Context, entity stock.Entity, locations []stock.LocationID) (decimal.Decimal, error) {
	if len(locations) == 0 {
		return decimal.Zero, nil
	}
	lvl, err := s.stockLevel(ctx, entity, stock.Context{}, locations)
	if err != nil {
		return decimal.Zero, err
	}
	return lvl.Level, nil
}

func (s *Service) IsInStock(ctx context.Context, entity stock.Entity, locations []stock.LocationID) (bool, error) {
	if len(locations) == 0 {
		return s.IsAlwaysInStock(ctx, entity)
	}
	lvl, err := s.stockLevel(ctx, entity, stock.Context{}, locations)
	if err != nil {
		return false, err
	}
	return lvl.InStock, nil
}

func (s *Service) IsAlwaysInStock(ctx context.Context, entity stock.Entity) (bool, error) {
	lvl, err := s.stockLevel(ctx, entity, stock.Context{}, nil)
	if err != nil {
		return false, err
	}
	return lvl.AlwaysInStock, nil
}

func (s *Service) stockLevel(ctx context.Context, entity stock.Entity, sc stock.Context, locations []stock.LocationID) (api.StockLevelDTO, error) {
	q := entityQuery(entity, sc)
	for _, id := range locations {
		q.Add("location", id.String())
	}
	var out api.StockLevelDTO
	err := s.do(ctx, http.MethodGet, stockPath(entity), q, nil, &out, call{entity: entity, notFound: stock.ErrServiceNotFound})
	return out, err
}

// =============================================================================
// UPDATER
// =============================================================================

func (s *Service) CreateTransaction(ctx context.Context, tx stock.Transaction) (stock.Transaction, error) {
	if tx.IdempotencyKey == "" {
		tx.IdempotencyKey = "remote:" + uuid.NewString()
	}
	entity := stock.Entity{ID: tx.EntityID, Type: tx.EntityType}

	var out api.TransactionDTO
	err := s.do(ctx, http.MethodPost, "/api/transactions", nil, api.NewTransactionRequest(tx, ""), &out,
		call{entity: entity, notFound: stock.ErrLocationNotFound})
	if err != nil {
		return stock.Transaction{}, err
	}
	return out.Transaction(), nil
}

func (s *Service) CreateMovement(ctx context.Context, from, to stock.Transaction) (stock.Transaction, stock.Transaction, error) {
	if from.IdempotencyKey == "" && to.IdempotencyKey == "" {
		key := "remote:" + uuid.NewString()
		from.IdempotencyKey = key + ":from"
		to.IdempotencyKey = key + ":to"
	}
	entity := stock.Entity{ID: from.EntityID, Type: from.EntityType}

	req := api.MovementLegsRequest{
		From: api.NewTransactionRequest(from, ""),
		To:   api.NewTransactionRequest(to, ""),
	}
	var out api.MovementLegsResponse
	err := s.do(ctx, http.MethodPost, "/api/transactions/movement", nil, req, &out,
		call{entity: entity, notFound: stock.ErrLocationNotFound})
	if err != nil {
		return stock.Transaction{}, stock.Transaction{}, err
	}
	return out.From.Transaction(), out.To.Transaction(), nil
}

func (s *Service) UpdateLocationLevel(ctx context.Context, key stock.LevelKey) error {
	path := "/api/admin/levels/" + key.LocationID.String() + "/" + url.PathEscape(string(key.EntityID)) + "/catch-up"
	return s.do(ctx, http.MethodPost, path, nil, nil, nil, call{notFound: stock.ErrLocationNotFound})
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// AvailabilityLocations asks the remote engine which locations count for
// entity, then fills in their details from its location list.
func (s *Service) AvailabilityLocations(ctx context.Context, entity stock.Entity, sc stock.Context) ([]stock.Location, error) {
	lvl, err := s.stockLevel(ctx, entity, sc, nil)
	if err != nil {
		return nil, err
	}
	if len(lvl.Locations) == 0 {
		return nil, nil
	}

	var all []api.LocationDTO
	err = s.do(ctx, http.MethodGet, "/api/locations", url.Values{"all": {"true"}}, nil, &all, call{notFound: stock.ErrLocationNotFound})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]api.LocationDTO, len(all))
	for _, l := range all {
		byID[l.ID] = l
	}

	out := make([]stock.Location, 0, len(lvl.Locations))
	for _, id := range lvl.Locations {
		if l, ok := byID[id]; ok {
			out = append(out, l.Location())
			continue
		}
		out = append(out, stock.Location{ID: stock.LocationID(id), Active: true})
	}
	return out, nil
}

// TransactionLocation returns nil when the remote engine has none to offer.
func (s *Service) TransactionLocation(ctx context.Context, entity stock.Entity, sc stock.Context, qty decimal.Decimal) (*stock.Location, error) {
	q := entityQuery(entity, sc)
	q.Set("quantity", qty.String())

	var out api.LocationDTO
	err := s.do(ctx, http.MethodGet, stockPath(entity)+"/transaction-location", q, nil, &out,
		call{entity: entity, notFound: stock.ErrLocationNotFound})
	if stock.IsConfigurationError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	loc := out.Location()
	return &loc, nil
}

// =============================================================================
// HTTP
// =============================================================================

// call describes how to interpret a failed response.
type call struct {
	entity   stock.Entity
	notFound error
}

func (s *Service) do(ctx context.Context, method, path string, query url.Values, body, out any, c call) error {
	target := s.base.String() + path
	if q := query.Encode(); q != "" {
		target += "?" + q
	}

	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, raw)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return stock.WrapStorage("remote "+method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.mapError(method, path, resp, c)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return stock.WrapStorage("decode remote "+path, err)
	}
	return nil
}

func (s *Service) mapError(method, path string, resp *http.Response, c call) error {
	var er api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &er) != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(data))
	}
	detail := er.Error
	if d, ok := er.Details.(string); ok && d != "" {
		detail = d
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: remote: %s", stock.ErrInvalidInput, detail)
	case http.StatusNotFound:
		notFound := c.notFound
		if notFound == nil {
			notFound = stock.ErrTransactionNotFound
		}
		return fmt.Errorf("%w: remote: %s", notFound, detail)
	case http.StatusConflict:
		return fmt.Errorf("%w: remote: %s", conflictSentinel(detail), detail)
	case http.StatusUnprocessableEntity:
		return &stock.ConfigurationError{Entity: c.entity, Reason: "remote: " + detail}
	}

	s.logger.Warn().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("error", detail).
		Msg("remote stock engine request failed")
	return &stock.StorageError{
		Op:  "remote " + method + " " + path,
		Err: errors.New(strconv.Itoa(resp.StatusCode) + " " + detail),
	}
}

func conflictSentinel(detail string) error {
	switch {
	case strings.Contains(detail, stock.ErrRetentionViolation.Error()):
		return stock.ErrRetentionViolation
	case strings.Contains(detail, stock.ErrDuplicateIdempotencyKey.Error()):
		return stock.ErrDuplicateIdempotencyKey
	default:
		return stock.ErrConcurrentModification
	}
}

func stockPath(entity stock.Entity) string {
	return "/api/stock/" + url.PathEscape(string(entity.Type)) + "/" + url.PathEscape(string(entity.ID))
}

func entityQuery(entity stock.Entity, sc stock.Context) url.Values {
	q := url.Values{}
	if entity.Bundle != "" {
		q.Set("bundle", entity.Bundle)
	}
	if sc.UserID != "" {
		q.Set("user", sc.UserID)
	}
	if sc.StoreID != "" {
		q.Set("store", sc.StoreID)
	}
	return q
}

// =============================================================================
// LOGGING
// =============================================================================

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug().Fields(kv).Msg(msg) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
