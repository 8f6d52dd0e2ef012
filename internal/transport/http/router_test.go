// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ferroline/factory-ops/internal/auth"
	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func testDeps() (Deps, *testStores) {
	stores := &testStores{
		partners:  &mockPartnerStore{},
		items:     &mockItemStore{},
		stock:     &mockStockStore{},
		templates: &mockTemplateStore{},
		lots:      &mockLotRunStore{},
		ncs:       &mockNCStore{},
		packaging: &mockPackagingStore{},
		events:    &mockEventRepo{},
	}
	return Deps{
		Partners:   stores.partners,
		Items:      stores.items,
		Stock:      stores.stock,
		Templates:  stores.templates,
		LotRuns:    stores.lots,
		NonConform: stores.ncs,
		Packaging:  stores.packaging,
		Events:     stores.events,
		Logger:     discardLogger(),
	}, stores
}

type testStores struct {
	partners  *mockPartnerStore
	items     *mockItemStore
	stock     *mockStockStore
	templates *mockTemplateStore
	lots      *mockLotRunStore
	ncs       *mockNCStore
	packaging *mockPackagingStore
	events    *mockEventRepo
}

// ---------------- LOT RUNS ----------------

func TestRouter_CreateLotRun(t *testing.T) {
	deps, stores := testDeps()
	lotID := uuid.New()
	stores.lots.createID = lotID
	router := NewRouter(deps)

	body := `{"template_id":"` + uuid.NewString() + `","item_id":"` + uuid.NewString() + `","lot_code":"LOT-1","input_qty":"100"}`
	req := httptest.NewRequest(http.MethodPost, "/lot-runs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["lot_run_id"] != lotID.String() {
		t.Fatalf("expected lot_run_id %s got %s", lotID, resp["lot_run_id"])
	}
	if !stores.lots.createParams.InputQty.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected input_qty 100 forwarded, got %s", stores.lots.createParams.InputQty)
	}
}

func TestRouter_CreateLotRunMissingLotCode(t *testing.T) {
	deps, _ := testDeps()
	router := NewRouter(deps)

	body := `{"template_id":"` + uuid.NewString() + `","item_id":"` + uuid.NewString() + `","input_qty":"100"}`
	req := httptest.NewRequest(http.MethodPost, "/lot-runs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_CreateLotRunMaxOpenLots(t *testing.T) {
	deps, stores := testDeps()
	stores.lots.createErr = domain.ErrMaxOpenLotsExceeded
	router := NewRouter(deps)

	body := `{"template_id":"` + uuid.NewString() + `","item_id":"` + uuid.NewString() + `","lot_code":"LOT-1","input_qty":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/lot-runs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header to be set")
	}
}

func TestRouter_CreateLotRunIdempotencyKey(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	body := `{"template_id":"` + uuid.NewString() + `","item_id":"` + uuid.NewString() + `","lot_code":"LOT-1","input_qty":"1"}`

	req1 := httptest.NewRequest(http.MethodPost, "/lot-runs", bytes.NewBufferString(body))
	req1.Header.Set(headerIdempotencyKey, "same-key")
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/lot-runs", bytes.NewBufferString(body))
	req2.Header.Set(headerIdempotencyKey, "same-key")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	var resp1, resp2 map[string]string
	if err := json.NewDecoder(rec1.Body).Decode(&resp1); err != nil {
		t.Fatalf("decode first response: %v", err)
	}
	if err := json.NewDecoder(rec2.Body).Decode(&resp2); err != nil {
		t.Fatalf("decode second response: %v", err)
	}

	if resp1["lot_run_id"] != resp2["lot_run_id"] {
		t.Fatalf("expected same lot_run_id for same idempotency key, got %s and %s",
			resp1["lot_run_id"], resp2["lot_run_id"])
	}
	if stores.lots.createCalls != 2 {
		t.Fatalf("expected CreateLotRun called twice got %d", stores.lots.createCalls)
	}
}

func TestRouter_GetLotRunNotFound(t *testing.T) {
	deps, stores := testDeps()
	stores.lots.getErr = pgx.ErrNoRows
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/lot-runs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestRouter_ListLotRunsInvalidStatus(t *testing.T) {
	deps, _ := testDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/lot-runs?status=BOGUS", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_ListSteps(t *testing.T) {
	deps, stores := testDeps()
	lotID := uuid.New()
	stores.lots.steps = []domain.StepRunRecord{
		{ID: uuid.New(), LotRunID: lotID, Position: 1, Name: "milling", Status: domain.StepPending},
		{ID: uuid.New(), LotRunID: lotID, Position: 2, Name: "packing", Status: domain.StepPending},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/lot-runs/"+lotID.String()+"/steps", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp struct {
		LotRunID string                 `json:"lot_run_id"`
		Steps    []domain.StepRunRecord `json:"steps"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Steps) != 2 {
		t.Fatalf("expected 2 steps got %d", len(resp.Steps))
	}
	if resp.Steps[0].Name != "milling" {
		t.Fatalf("expected first step milling got %s", resp.Steps[0].Name)
	}
}

func TestRouter_StartStepOrderViolation(t *testing.T) {
	deps, stores := testDeps()
	stores.lots.startErr = domain.ErrStepOrderViolation
	router := NewRouter(deps)

	url := "/lot-runs/" + uuid.NewString() + "/steps/" + uuid.NewString() + "/start"
	req := httptest.NewRequest(http.MethodPost, url, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestRouter_CompleteStep(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	stepID := uuid.New()
	url := "/lot-runs/" + uuid.NewString() + "/steps/" + stepID.String() + "/complete"
	body := `{"output_qty":"95","scrap_qty":"5","note":"done"}`
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if !stores.lots.completeParams.OutputQty.Equal(decimal.RequireFromString("95")) {
		t.Fatalf("expected output_qty 95 forwarded, got %s", stores.lots.completeParams.OutputQty)
	}
	if stores.lots.completeParams.Note != "done" {
		t.Fatalf("expected note forwarded, got %q", stores.lots.completeParams.Note)
	}
}

func TestRouter_CompleteStepConservationViolation(t *testing.T) {
	deps, stores := testDeps()
	stores.lots.completeErr = domain.ErrQuantityConservation
	router := NewRouter(deps)

	url := "/lot-runs/" + uuid.NewString() + "/steps/" + uuid.NewString() + "/complete"
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"output_qty":"95","scrap_qty":"10"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_SkipStepWithoutBody(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	url := "/lot-runs/" + uuid.NewString() + "/steps/" + uuid.NewString() + "/skip"
	req := httptest.NewRequest(http.MethodPost, url, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if !stores.lots.skipCalled {
		t.Fatal("expected SkipStep to be called")
	}
}

func TestRouter_FailStepNote(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	url := "/lot-runs/" + uuid.NewString() + "/steps/" + uuid.NewString() + "/fail"
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"note":"mixer jammed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if stores.lots.failNote != "mixer jammed" {
		t.Fatalf("expected fail note forwarded, got %q", stores.lots.failNote)
	}
}

func TestRouter_CancelLotRun(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	lotID := uuid.New()
	stores.lots.getResp = domain.LotRunRecord{ID: lotID, Status: domain.LotCanceled}
	req := httptest.NewRequest(http.MethodPost, "/lot-runs/"+lotID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if stores.lots.cancelID != lotID {
		t.Fatalf("expected cancel id %s got %s", lotID, stores.lots.cancelID)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(domain.LotCanceled) {
		t.Fatalf("expected status %s got %s", domain.LotCanceled, resp["status"])
	}
}

func TestRouter_CancelLotRunEchoesTerminalStatus(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	// Canceling an already-completed lot is a no-op; the response reports
	// the lot's real status.
	lotID := uuid.New()
	stores.lots.getResp = domain.LotRunRecord{ID: lotID, Status: domain.LotCompleted}
	req := httptest.NewRequest(http.MethodPost, "/lot-runs/"+lotID.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(domain.LotCompleted) {
		t.Fatalf("expected status %s got %s", domain.LotCompleted, resp["status"])
	}
}

func TestRouter_SignoffBlockedByOpenNC(t *testing.T) {
	deps, stores := testDeps()
	stores.lots.signoffErr = domain.ErrSignoffOpenNC
	router := NewRouter(deps)

	url := "/lot-runs/" + uuid.NewString() + "/signoff"
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"approved_by":"qa-lead"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestRouter_SignoffForwardsApprover(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	lotID := uuid.New()
	stores.lots.getResp = domain.LotRunRecord{ID: lotID, Status: domain.LotCompleted}
	url := "/lot-runs/" + lotID.String() + "/signoff"
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"approved_by":"qa-lead"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if stores.lots.signoffBy != "qa-lead" {
		t.Fatalf("expected approver forwarded, got %q", stores.lots.signoffBy)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(domain.LotCompleted) {
		t.Fatalf("expected status %s got %s", domain.LotCompleted, resp["status"])
	}
}

// ---------------- NON-CONFORMANCES ----------------

func TestRouter_RaiseNC(t *testing.T) {
	deps, stores := testDeps()
	lotID := uuid.New()
	stepID := uuid.New()
	stores.ncs.raiseResp = domain.NonConformanceRecord{
		ID:       uuid.New(),
		LotRunID: lotID,
		Severity: domain.NCMajor,
		Status:   domain.NCOpen,
	}
	router := NewRouter(deps)

	body := `{"step_run_id":"` + stepID.String() + `","severity":"major","description":"burnt batch"}`
	req := httptest.NewRequest(http.MethodPost, "/lot-runs/"+lotID.String()+"/non-conformances", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if stores.ncs.raiseParams.Severity != domain.NCMajor {
		t.Fatalf("expected severity MAJOR forwarded, got %s", stores.ncs.raiseParams.Severity)
	}
	if stores.ncs.raiseParams.StepRunID != stepID {
		t.Fatalf("expected step_run_id forwarded, got %s", stores.ncs.raiseParams.StepRunID)
	}
}

func TestRouter_RaiseNCInvalidSeverity(t *testing.T) {
	deps, stores := testDeps()
	stores.ncs.raiseErr = domain.ErrInvalidNCSeverity
	router := NewRouter(deps)

	body := `{"step_run_id":"` + uuid.NewString() + `","severity":"SEVERE","description":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/lot-runs/"+uuid.NewString()+"/non-conformances", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_ResolveNCAlreadyResolved(t *testing.T) {
	deps, stores := testDeps()
	stores.ncs.resolveErr = domain.ErrNCAlreadyResolved
	router := NewRouter(deps)

	url := "/non-conformances/" + uuid.NewString() + "/resolve"
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"resolution":"reworked"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

// ---------------- PARTNERS ----------------

func TestRouter_CreatePartner(t *testing.T) {
	deps, stores := testDeps()
	stores.partners.createResp = domain.PartnerRecord{
		ID:   uuid.New(),
		Kind: domain.PartnerSupplier,
		Name: "Acme Mills",
	}
	router := NewRouter(deps)

	body := `{"kind":"supplier","name":"Acme Mills","email":"orders@acmemills.test"}`
	req := httptest.NewRequest(http.MethodPost, "/partners", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if stores.partners.createParams.Kind != domain.PartnerSupplier {
		t.Fatalf("expected kind uppercased to SUPPLIER, got %s", stores.partners.createParams.Kind)
	}
}

func TestRouter_CreatePartnerInvalidKind(t *testing.T) {
	deps, stores := testDeps()
	stores.partners.createErr = domain.ErrInvalidPartnerKind
	router := NewRouter(deps)

	body := `{"kind":"VENDOR","name":"Acme"}`
	req := httptest.NewRequest(http.MethodPost, "/partners", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_ListPartnersKindFilter(t *testing.T) {
	deps, stores := testDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/partners?kind=customer", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if stores.partners.listKind != domain.PartnerCustomer {
		t.Fatalf("expected kind filter CUSTOMER, got %s", stores.partners.listKind)
	}
}

// ---------------- ITEMS & STOCK ----------------

func TestRouter_CreateItemDuplicateSKU(t *testing.T) {
	deps, stores := testDeps()
	stores.items.createErr = domain.ErrDuplicateSKU
	router := NewRouter(deps)

	body := `{"sku":"FLOUR-25","name":"Flour","unit":"KG"}`
	req := httptest.NewRequest(http.MethodPost, "/items", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestRouter_RecordMovementNegativeStock(t *testing.T) {
	deps, stores := testDeps()
	stores.stock.recordErr = domain.ErrNegativeStock
	router := NewRouter(deps)

	body := `{"item_id":"` + uuid.NewString() + `","kind":"issue","quantity":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/stock-movements", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 got %d", rec.Code)
	}
}

func TestRouter_RecordMovement(t *testing.T) {
	deps, stores := testDeps()
	itemID := uuid.New()
	stores.stock.recordResp = domain.StockMovementRecord{
		ID:       uuid.New(),
		ItemID:   itemID,
		Kind:     domain.MovementReceipt,
		Quantity: decimal.RequireFromString("25"),
	}
	router := NewRouter(deps)

	body := `{"item_id":"` + itemID.String() + `","kind":"receipt","quantity":"25","reference":"PO-17"}`
	req := httptest.NewRequest(http.MethodPost, "/stock-movements", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if stores.stock.recordParams.Kind != domain.MovementReceipt {
		t.Fatalf("expected kind uppercased to RECEIPT, got %s", stores.stock.recordParams.Kind)
	}
	if stores.stock.recordParams.Reference != "PO-17" {
		t.Fatalf("expected reference forwarded, got %q", stores.stock.recordParams.Reference)
	}
}

func TestRouter_LowStock(t *testing.T) {
	deps, stores := testDeps()
	stores.stock.lowResp = []domain.StockSummary{
		{ItemID: uuid.New(), SKU: "FLOUR-25", OnHand: decimal.RequireFromString("2")},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/stock/low", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "FLOUR-25") {
		t.Fatalf("expected low stock sku in body, got %s", rec.Body.String())
	}
}

func TestRouter_ListMovementsInvalidLimit(t *testing.T) {
	deps, _ := testDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/items/"+uuid.NewString()+"/movements?limit=zero", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

// ---------------- TEMPLATES ----------------

func TestRouter_CreateTemplateBadStepOrder(t *testing.T) {
	deps, stores := testDeps()
	stores.templates.createErr = domain.ErrTemplateStepOrder
	router := NewRouter(deps)

	body := `{"name":"bad","steps":[{"position":1,"name":"a"},{"position":3,"name":"b"}]}`
	req := httptest.NewRequest(http.MethodPost, "/process-templates", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_CreateTemplateMissingName(t *testing.T) {
	deps, stores := testDeps()
	stores.templates.createErr = domain.ErrTemplateNameRequired
	router := NewRouter(deps)

	body := `{"name":"","steps":[{"position":1,"name":"a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/process-templates", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "template name is required") {
		t.Fatalf("expected name error in body, got %q", rec.Body.String())
	}
}

func TestRouter_CreateTemplate(t *testing.T) {
	deps, stores := testDeps()
	stores.templates.createResp = domain.ProcessTemplateRecord{
		ID:     uuid.New(),
		Name:   "mill-and-pack",
		Active: true,
	}
	router := NewRouter(deps)

	body := `{"name":"mill-and-pack","steps":[{"position":1,"name":"milling","requires_quantity":true,"expected_minutes":30}]}`
	req := httptest.NewRequest(http.MethodPost, "/process-templates", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(stores.templates.createParams.Steps) != 1 {
		t.Fatalf("expected 1 step forwarded got %d", len(stores.templates.createParams.Steps))
	}
	if !stores.templates.createParams.Steps[0].RequiresQuantity {
		t.Fatal("expected requires_quantity forwarded")
	}
}

// ---------------- PACKAGING & PACK PLANS ----------------

func TestRouter_PackPlan(t *testing.T) {
	deps, stores := testDeps()
	packetID := uuid.New()
	boxID := uuid.New()
	stores.packaging.unitsByID = map[uuid.UUID]domain.PackagingUnitRecord{
		packetID: {
			ID:          packetID,
			Kind:        domain.PackagingPacket,
			CapacityKg:  decimal.RequireFromString("0.5"),
			TareKg:      decimal.RequireFromString("0.01"),
			UnitsPerBox: 20,
		},
		boxID: {
			ID:     boxID,
			Kind:   domain.PackagingBox,
			TareKg: decimal.RequireFromString("0.2"),
		},
	}
	router := NewRouter(deps)

	body := `{"net_weight_kg":"10.3","packet_unit_id":"` + packetID.String() + `","box_unit_id":"` + boxID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/pack-plans", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}

	var plan domain.PackPlan
	if err := json.NewDecoder(rec.Body).Decode(&plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.PacketCount != 21 {
		t.Fatalf("expected 21 packets got %d", plan.PacketCount)
	}
	if plan.BoxCount != 2 {
		t.Fatalf("expected 2 boxes got %d", plan.BoxCount)
	}
	if !plan.ResidualKg.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("expected residual 0.3 got %s", plan.ResidualKg)
	}
}

func TestRouter_PackPlanUnknownPacketUnit(t *testing.T) {
	deps, _ := testDeps()
	router := NewRouter(deps)

	body := `{"net_weight_kg":"10","packet_unit_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/pack-plans", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

// ---------------- EVENTS (SSE) ----------------

func TestRouter_StreamEvents(t *testing.T) {
	deps, stores := testDeps()
	lotID := uuid.New()
	ev := domain.EventRecord{
		ID:        uuid.New(),
		Seq:       1,
		LotRunID:  lotID,
		Type:      domain.EventStepStarted,
		CreatedAt: time.Now().UTC(),
	}
	stores.lots.getResp = domain.LotRunRecord{ID: lotID, Status: domain.LotInProgress}
	stores.events.eventsByAfter = map[int64][]domain.EventRecord{
		0: {ev},
	}
	router := NewRouter(deps)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/lot-runs/"+lotID.String()+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: lot_update") {
		t.Fatalf("expected SSE event line, got body %q", body)
	}
	if !strings.Contains(body, ev.ID.String()) {
		t.Fatalf("expected SSE payload to include event id %s, got body %q", ev.ID, body)
	}
}

func TestRouter_StreamEventsInvalidSinceID(t *testing.T) {
	deps, _ := testDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/lot-runs/"+uuid.NewString()+"/events?since_id=not-valid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_StreamEventsSinceEventID(t *testing.T) {
	deps, stores := testDeps()
	lotID := uuid.New()
	sinceEventID := uuid.New()
	ev := domain.EventRecord{
		ID:        uuid.New(),
		Seq:       6,
		LotRunID:  lotID,
		Type:      domain.EventStepComplete,
		CreatedAt: time.Now().UTC(),
	}
	stores.lots.getResp = domain.LotRunRecord{ID: lotID, Status: domain.LotInProgress}
	stores.events.resolveCursorByEventID = map[uuid.UUID]int64{sinceEventID: 5}
	stores.events.eventsByAfter = map[int64][]domain.EventRecord{
		5: {ev},
	}
	router := NewRouter(deps)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(
		http.MethodGet,
		"/lot-runs/"+lotID.String()+"/events?since_id="+sinceEventID.String(),
		nil,
	).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(rec.Body.String(), ev.ID.String()) {
		t.Fatalf("expected resumed stream to include event %s, got %q", ev.ID, rec.Body.String())
	}
}

// ---------------- ADMIN & AUTH ----------------

func TestRouter_CreateAPIKeyRequiresAdminToken(t *testing.T) {
	deps, _ := testDeps()
	deps.APIKeyAdmin = &mockAPIKeyManager{}
	deps.AdminToken = "super-secret"
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api-keys", bytes.NewBufferString(`{"name":"ops"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}
}

func TestRouter_CreateAPIKey(t *testing.T) {
	deps, _ := testDeps()
	manager := &mockAPIKeyManager{}
	deps.APIKeyAdmin = manager
	deps.AdminToken = "super-secret"
	router := NewRouter(deps)

	body := `{"name":"ops","max_open_lots":5,"max_requests_per_min":120}`
	req := httptest.NewRequest(http.MethodPost, "/api-keys", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer super-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if manager.createParams.MaxOpenLots != 5 {
		t.Fatalf("expected max_open_lots 5 forwarded got %d", manager.createParams.MaxOpenLots)
	}
}

func TestRouter_TenantRoutesRequireAPIToken(t *testing.T) {
	deps, _ := testDeps()
	deps.APIKeyResolver = &mockAPIKeyResolver{}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}
}

func TestRouter_TenantRoutesWithValidToken(t *testing.T) {
	deps, _ := testDeps()
	keyID := uuid.New()
	deps.APIKeyResolver = &mockAPIKeyResolver{
		keyByToken: map[string]auth.APIKey{
			"fok_valid": {ID: keyID, MaxOpenLots: 20, MaxRequestsPerMin: 60},
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Authorization", "Bearer fok_valid")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

// ---------------- HEALTH & VERSION ----------------

func TestRouter_Healthz(t *testing.T) {
	deps, _ := testDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}

func TestRouter_ReadyzFailing(t *testing.T) {
	deps, _ := testDeps()
	deps.Health = &mockHealthChecker{err: errors.New("schema missing")}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}

func TestRouter_Version(t *testing.T) {
	deps, _ := testDeps()
	deps.Version = "1.4.0"
	deps.Commit = "abc1234"
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["version"] != "1.4.0" {
		t.Fatalf("expected version 1.4.0 got %s", resp["version"])
	}
}

// ---------------- MOCKS ----------------

type mockLotRunStore struct {
	createID       uuid.UUID
	createErr      error
	createCalls    int
	createParams   domain.CreateLotRunParams
	lotByKey       map[string]uuid.UUID
	getResp        domain.LotRunRecord
	getErr         error
	listResp       []domain.LotRunSummary
	listErr        error
	steps          []domain.StepRunRecord
	stepsErr       error
	startErr       error
	completeErr    error
	completeParams domain.CompleteStepParams
	skipErr        error
	skipCalled     bool
	skipNote       string
	failErr        error
	failNote       string
	cancelErr      error
	cancelID       uuid.UUID
	signoffErr     error
	signoffBy      string
}

func (m *mockLotRunStore) CreateLotRun(ctx context.Context, params domain.CreateLotRunParams) (uuid.UUID, error) {
	m.createCalls++
	m.createParams = params

	if key, ok := auth.IdempotencyKeyFromContext(ctx); ok {
		if m.lotByKey == nil {
			m.lotByKey = make(map[string]uuid.UUID, 2)
		}
		if id, exists := m.lotByKey[key]; exists {
			return id, m.createErr
		}
		id := m.createID
		if id == uuid.Nil {
			id = uuid.New()
		}
		m.lotByKey[key] = id
		return id, m.createErr
	}

	if m.createID == uuid.Nil {
		m.createID = uuid.New()
	}
	return m.createID, m.createErr
}

func (m *mockLotRunStore) GetLotRun(ctx context.Context, id uuid.UUID) (domain.LotRunRecord, error) {
	return m.getResp, m.getErr
}

func (m *mockLotRunStore) ListLotRuns(ctx context.Context, status domain.LotStatus) ([]domain.LotRunSummary, error) {
	return m.listResp, m.listErr
}

func (m *mockLotRunStore) ListSteps(ctx context.Context, lotID uuid.UUID) ([]domain.StepRunRecord, error) {
	return m.steps, m.stepsErr
}

func (m *mockLotRunStore) StartStep(ctx context.Context, lotID, stepID uuid.UUID) error {
	return m.startErr
}

func (m *mockLotRunStore) CompleteStep(ctx context.Context, lotID, stepID uuid.UUID, params domain.CompleteStepParams) error {
	m.completeParams = params
	return m.completeErr
}

func (m *mockLotRunStore) SkipStep(ctx context.Context, lotID, stepID uuid.UUID, note string) error {
	m.skipCalled = true
	m.skipNote = note
	return m.skipErr
}

func (m *mockLotRunStore) FailStep(ctx context.Context, lotID, stepID uuid.UUID, note string) error {
	m.failNote = note
	return m.failErr
}

func (m *mockLotRunStore) CancelLotRun(ctx context.Context, lotID uuid.UUID) error {
	m.cancelID = lotID
	return m.cancelErr
}

func (m *mockLotRunStore) SignoffLotRun(ctx context.Context, lotID uuid.UUID, approvedBy string) error {
	m.signoffBy = approvedBy
	return m.signoffErr
}

type mockPartnerStore struct {
	createResp   domain.PartnerRecord
	createErr    error
	createParams domain.PartnerParams
	getResp      domain.PartnerRecord
	getErr       error
	listResp     []domain.PartnerRecord
	listErr      error
	listKind     domain.PartnerKind
	updateResp   domain.PartnerRecord
	updateErr    error
	archiveErr   error
}

func (m *mockPartnerStore) CreatePartner(ctx context.Context, params domain.PartnerParams) (domain.PartnerRecord, error) {
	m.createParams = params
	return m.createResp, m.createErr
}

func (m *mockPartnerStore) GetPartner(ctx context.Context, id uuid.UUID) (domain.PartnerRecord, error) {
	return m.getResp, m.getErr
}

func (m *mockPartnerStore) ListPartners(ctx context.Context, kind domain.PartnerKind, includeArchived bool) ([]domain.PartnerRecord, error) {
	m.listKind = kind
	return m.listResp, m.listErr
}

func (m *mockPartnerStore) UpdatePartner(ctx context.Context, id uuid.UUID, params domain.PartnerParams) (domain.PartnerRecord, error) {
	return m.updateResp, m.updateErr
}

func (m *mockPartnerStore) ArchivePartner(ctx context.Context, id uuid.UUID) error {
	return m.archiveErr
}

type mockItemStore struct {
	createResp   domain.ItemRecord
	createErr    error
	createParams domain.ItemParams
	getResp      domain.ItemRecord
	getErr       error
	listResp     []domain.ItemRecord
	listErr      error
	updateResp   domain.ItemRecord
	updateErr    error
	archiveErr   error
}

func (m *mockItemStore) CreateItem(ctx context.Context, params domain.ItemParams) (domain.ItemRecord, error) {
	m.createParams = params
	return m.createResp, m.createErr
}

func (m *mockItemStore) GetItem(ctx context.Context, id uuid.UUID) (domain.ItemRecord, error) {
	return m.getResp, m.getErr
}

func (m *mockItemStore) ListItems(ctx context.Context, includeArchived bool) ([]domain.ItemRecord, error) {
	return m.listResp, m.listErr
}

func (m *mockItemStore) UpdateItem(ctx context.Context, id uuid.UUID, params domain.ItemParams) (domain.ItemRecord, error) {
	return m.updateResp, m.updateErr
}

func (m *mockItemStore) ArchiveItem(ctx context.Context, id uuid.UUID) error {
	return m.archiveErr
}

type mockStockStore struct {
	recordResp   domain.StockMovementRecord
	recordErr    error
	recordParams domain.StockMovementParams
	summaryResp  domain.StockSummary
	summaryErr   error
	listResp     []domain.StockMovementRecord
	listErr      error
	lowResp      []domain.StockSummary
	lowErr       error
}

func (m *mockStockStore) RecordMovement(ctx context.Context, params domain.StockMovementParams) (domain.StockMovementRecord, error) {
	m.recordParams = params
	return m.recordResp, m.recordErr
}

func (m *mockStockStore) GetStockSummary(ctx context.Context, itemID uuid.UUID) (domain.StockSummary, error) {
	return m.summaryResp, m.summaryErr
}

func (m *mockStockStore) ListMovements(ctx context.Context, itemID uuid.UUID, limit int) ([]domain.StockMovementRecord, error) {
	return m.listResp, m.listErr
}

func (m *mockStockStore) ListLowStock(ctx context.Context) ([]domain.StockSummary, error) {
	return m.lowResp, m.lowErr
}

type mockTemplateStore struct {
	createResp    domain.ProcessTemplateRecord
	createErr     error
	createParams  domain.CreateTemplateParams
	getResp       domain.ProcessTemplateRecord
	getErr        error
	listResp      []domain.ProcessTemplateRecord
	listErr       error
	deactivateErr error
}

func (m *mockTemplateStore) CreateTemplate(ctx context.Context, params domain.CreateTemplateParams) (domain.ProcessTemplateRecord, error) {
	m.createParams = params
	return m.createResp, m.createErr
}

func (m *mockTemplateStore) GetTemplate(ctx context.Context, id uuid.UUID) (domain.ProcessTemplateRecord, error) {
	return m.getResp, m.getErr
}

func (m *mockTemplateStore) ListTemplates(ctx context.Context, includeInactive bool) ([]domain.ProcessTemplateRecord, error) {
	return m.listResp, m.listErr
}

func (m *mockTemplateStore) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	return m.deactivateErr
}

type mockNCStore struct {
	raiseResp   domain.NonConformanceRecord
	raiseErr    error
	raiseParams domain.RaiseNCParams
	resolveErr  error
	listResp    []domain.NonConformanceRecord
	listErr     error
}

func (m *mockNCStore) RaiseNC(ctx context.Context, lotID uuid.UUID, params domain.RaiseNCParams) (domain.NonConformanceRecord, error) {
	m.raiseParams = params
	return m.raiseResp, m.raiseErr
}

func (m *mockNCStore) ResolveNC(ctx context.Context, ncID uuid.UUID, resolution string) error {
	return m.resolveErr
}

func (m *mockNCStore) ListNCs(ctx context.Context, lotID uuid.UUID) ([]domain.NonConformanceRecord, error) {
	return m.listResp, m.listErr
}

type mockPackagingStore struct {
	unitsByID    map[uuid.UUID]domain.PackagingUnitRecord
	createResp   domain.PackagingUnitRecord
	createErr    error
	createParams domain.PackagingUnitParams
	listResp     []domain.PackagingUnitRecord
	listErr      error
	updateResp   domain.PackagingUnitRecord
	updateErr    error
	deactivErr   error
}

func (m *mockPackagingStore) CreatePackagingUnit(ctx context.Context, params domain.PackagingUnitParams) (domain.PackagingUnitRecord, error) {
	m.createParams = params
	return m.createResp, m.createErr
}

func (m *mockPackagingStore) GetPackagingUnit(ctx context.Context, id uuid.UUID) (domain.PackagingUnitRecord, error) {
	if m.unitsByID == nil {
		return domain.PackagingUnitRecord{}, pgx.ErrNoRows
	}
	rec, ok := m.unitsByID[id]
	if !ok {
		return domain.PackagingUnitRecord{}, pgx.ErrNoRows
	}
	return rec, nil
}

func (m *mockPackagingStore) ListPackagingUnits(ctx context.Context, kind domain.PackagingKind, includeInactive bool) ([]domain.PackagingUnitRecord, error) {
	return m.listResp, m.listErr
}

func (m *mockPackagingStore) UpdatePackagingUnit(ctx context.Context, id uuid.UUID, params domain.PackagingUnitParams) (domain.PackagingUnitRecord, error) {
	return m.updateResp, m.updateErr
}

func (m *mockPackagingStore) DeactivatePackagingUnit(ctx context.Context, id uuid.UUID) error {
	return m.deactivErr
}

type mockEventRepo struct {
	eventsByAfter          map[int64][]domain.EventRecord
	listErr                error
	resolveCursorByEventID map[uuid.UUID]int64
	resolveErr             error
}

func (m *mockEventRepo) ListEventsAfter(ctx context.Context, lotRunID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.eventsByAfter == nil {
		return nil, nil
	}
	return m.eventsByAfter[afterSeq], nil
}

func (m *mockEventRepo) ResolveCursorByEventID(ctx context.Context, lotRunID uuid.UUID, eventID uuid.UUID) (int64, error) {
	if m.resolveErr != nil {
		return 0, m.resolveErr
	}
	if m.resolveCursorByEventID == nil {
		return 0, pgx.ErrNoRows
	}
	seq, ok := m.resolveCursorByEventID[eventID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return seq, nil
}

type mockAPIKeyResolver struct {
	keyByToken map[string]auth.APIKey
	err        error
}

func (m *mockAPIKeyResolver) ResolveAPIKey(ctx context.Context, bearerToken string) (auth.APIKey, bool, error) {
	if m.err != nil {
		return auth.APIKey{}, false, m.err
	}
	key, ok := m.keyByToken[bearerToken]
	return key, ok, nil
}

type mockAPIKeyManager struct {
	createResp   domain.CreatedAPIKey
	createErr    error
	createParams domain.CreateAPIKeyParams
	listResp     []domain.APIKeyRecord
	listErr      error
	revokeErr    error
}

func (m *mockAPIKeyManager) CreateAPIKey(ctx context.Context, params domain.CreateAPIKeyParams) (domain.CreatedAPIKey, error) {
	m.createParams = params
	if m.createResp.ID == uuid.Nil && m.createErr == nil {
		m.createResp.ID = uuid.New()
		m.createResp.Token = "fok_generated"
	}
	return m.createResp, m.createErr
}

func (m *mockAPIKeyManager) ListAPIKeys(ctx context.Context) ([]domain.APIKeyRecord, error) {
	return m.listResp, m.listErr
}

func (m *mockAPIKeyManager) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return m.revokeErr
}

type mockHealthChecker struct {
	err   error
	calls int
}

func (m *mockHealthChecker) Check(ctx context.Context) error {
	m.calls++
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
