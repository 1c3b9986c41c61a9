/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  stock data for demos. Each scenario creates locations and runs movement
  operations through the normal write path, so levels, checkpoints and
  history look exactly like production data.

AVAILABLE SCENARIOS:
  single-warehouse: One warehouse, a delivery and a few sales
  multi-location:   Warehouse, outlet and a closed (inactive) store
  transfers:        Stock moved from the warehouse to the outlet

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Create locations
  3. Receive stock
  4. Optionally sell, return or move

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "multi-location"}

NOTE:
  Scenarios reset the store. They are only routed when Handler.Reset is
  set, which cmd/server does only with ENABLE_SCENARIOS=true.

SEE ALSO:
  - handlers.go: Movement handlers use the same operations
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/movement"
	"github.com/warp/stock-engine/stock"
)

// Resetter clears all stored data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ScenarioEntityType is the entity type every scenario item uses.
const ScenarioEntityType = "product_variation"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-warehouse",
		Name:        "Single Warehouse",
		Description: "One warehouse receives 100 t-shirts and sells 7",
	},
	{
		ID:          "multi-location",
		Name:        "Multi-Location",
		Description: "Warehouse, outlet and a closed store; the closed store is excluded from availability",
	},
	{
		ID:          "transfers",
		Name:        "Transfers",
		Description: "50 mugs received at the warehouse, 20 moved to the outlet",
	},
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": nil})
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"single-warehouse": h.loadSingleWarehouseScenario,
		"multi-location":   h.loadMultiLocationScenario,
		"transfers":        h.loadTransfersScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.Reset.Reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset store", stock.WrapStorage("reset", err))
		return
	}
	if inv, ok := h.Locations.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
	if err := load(ctx); err != nil {
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleWarehouseScenario(ctx context.Context) error {
	wh, err := h.Locations.Save(ctx, stock.Location{Name: "Main warehouse", Active: true})
	if err != nil {
		return err
	}

	tshirt := scenarioEntity("tshirt-blue-m")
	if _, err := h.Movements.Receive(ctx, movement.Request{
		Entity: tshirt, LocationID: wh.ID, Quantity: decimal.NewFromInt(100), Note: "initial delivery",
	}); err != nil {
		return err
	}
	for i, qty := range []int64{2, 4, 1} {
		if _, err := h.Movements.Sell(ctx, movement.Request{
			Entity:     tshirt,
			LocationID: wh.ID,
			Quantity:   decimal.NewFromInt(qty),
			OrderID:    fmt.Sprintf("order-%d", 1001+i),
			UserID:     "customer-1",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMultiLocationScenario(ctx context.Context) error {
	stockAt := map[string]int64{
		"Main warehouse": 40,
		"Outlet":         12,
		"Closed store":   9,
	}
	sneaker := scenarioEntity("sneaker-white-42")

	var outlet stock.Location
	for _, name := range []string{"Main warehouse", "Outlet", "Closed store"} {
		loc, err := h.Locations.Save(ctx, stock.Location{Name: name, Active: true})
		if err != nil {
			return err
		}
		if _, err := h.Movements.Receive(ctx, movement.Request{
			Entity: sneaker, LocationID: loc.ID, Quantity: decimal.NewFromInt(stockAt[name]),
		}); err != nil {
			return err
		}
		switch name {
		case "Outlet":
			outlet = loc
		case "Closed store":
			loc.Active = false
			if _, err := h.Locations.Save(ctx, loc); err != nil {
				return err
			}
		}
	}

	// A return to the outlet for an earlier online order.
	_, err := h.Movements.Return(ctx, movement.Request{
		Entity: sneaker, LocationID: outlet.ID, Quantity: decimal.NewFromInt(1),
		OrderID: "order-0042", UserID: "customer-7",
	})
	return err
}

func (h *Handler) loadTransfersScenario(ctx context.Context) error {
	wh, err := h.Locations.Save(ctx, stock.Location{Name: "Main warehouse", Active: true})
	if err != nil {
		return err
	}
	outlet, err := h.Locations.Save(ctx, stock.Location{Name: "Outlet", Active: true})
	if err != nil {
		return err
	}

	mug := scenarioEntity("mug-classic")
	if _, err := h.Movements.Receive(ctx, movement.Request{
		Entity: mug, LocationID: wh.ID, Quantity: decimal.NewFromInt(50),
	}); err != nil {
		return err
	}
	_, err = h.Movements.Move(ctx, movement.MoveRequest{
		Entity:         mug,
		FromLocationID: wh.ID,
		ToLocationID:   outlet.ID,
		Quantity:       decimal.NewFromInt(20),
		Note:           "restock outlet",
	})
	return err
}

func scenarioEntity(id string) stock.Entity {
	return stock.Entity{ID: stock.EntityID(id), Type: ScenarioEntityType}
}
