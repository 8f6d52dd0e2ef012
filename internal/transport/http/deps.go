// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/ferroline/factory-ops/internal/auth"
	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/google/uuid"
)

type PartnerStore interface {
	CreatePartner(ctx context.Context, params domain.PartnerParams) (domain.PartnerRecord, error)
	GetPartner(ctx context.Context, id uuid.UUID) (domain.PartnerRecord, error)
	ListPartners(ctx context.Context, kind domain.PartnerKind, includeArchived bool) ([]domain.PartnerRecord, error)
	UpdatePartner(ctx context.Context, id uuid.UUID, params domain.PartnerParams) (domain.PartnerRecord, error)
	ArchivePartner(ctx context.Context, id uuid.UUID) error
}

type ItemStore interface {
	CreateItem(ctx context.Context, params domain.ItemParams) (domain.ItemRecord, error)
	GetItem(ctx context.Context, id uuid.UUID) (domain.ItemRecord, error)
	ListItems(ctx context.Context, includeArchived bool) ([]domain.ItemRecord, error)
	UpdateItem(ctx context.Context, id uuid.UUID, params domain.ItemParams) (domain.ItemRecord, error)
	ArchiveItem(ctx context.Context, id uuid.UUID) error
}

type StockStore interface {
	RecordMovement(ctx context.Context, params domain.StockMovementParams) (domain.StockMovementRecord, error)
	GetStockSummary(ctx context.Context, itemID uuid.UUID) (domain.StockSummary, error)
	ListMovements(ctx context.Context, itemID uuid.UUID, limit int) ([]domain.StockMovementRecord, error)
	ListLowStock(ctx context.Context) ([]domain.StockSummary, error)
}

type TemplateStore interface {
	CreateTemplate(ctx context.Context, params domain.CreateTemplateParams) (domain.ProcessTemplateRecord, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (domain.ProcessTemplateRecord, error)
	ListTemplates(ctx context.Context, includeInactive bool) ([]domain.ProcessTemplateRecord, error)
	DeactivateTemplate(ctx context.Context, id uuid.UUID) error
}

type LotRunStore interface {
	CreateLotRun(ctx context.Context, params domain.CreateLotRunParams) (uuid.UUID, error)
	GetLotRun(ctx context.Context, id uuid.UUID) (domain.LotRunRecord, error)
	ListLotRuns(ctx context.Context, status domain.LotStatus) ([]domain.LotRunSummary, error)
	ListSteps(ctx context.Context, lotID uuid.UUID) ([]domain.StepRunRecord, error)
	StartStep(ctx context.Context, lotID, stepID uuid.UUID) error
	CompleteStep(ctx context.Context, lotID, stepID uuid.UUID, params domain.CompleteStepParams) error
	SkipStep(ctx context.Context, lotID, stepID uuid.UUID, note string) error
	FailStep(ctx context.Context, lotID, stepID uuid.UUID, note string) error
	CancelLotRun(ctx context.Context, lotID uuid.UUID) error
	SignoffLotRun(ctx context.Context, lotID uuid.UUID, approvedBy string) error
}

type NonConformanceStore interface {
	RaiseNC(ctx context.Context, lotID uuid.UUID, params domain.RaiseNCParams) (domain.NonConformanceRecord, error)
	ResolveNC(ctx context.Context, ncID uuid.UUID, resolution string) error
	ListNCs(ctx context.Context, lotID uuid.UUID) ([]domain.NonConformanceRecord, error)
}

type PackagingStore interface {
	CreatePackagingUnit(ctx context.Context, params domain.PackagingUnitParams) (domain.PackagingUnitRecord, error)
	GetPackagingUnit(ctx context.Context, id uuid.UUID) (domain.PackagingUnitRecord, error)
	ListPackagingUnits(ctx context.Context, kind domain.PackagingKind, includeInactive bool) ([]domain.PackagingUnitRecord, error)
	UpdatePackagingUnit(ctx context.Context, id uuid.UUID, params domain.PackagingUnitParams) (domain.PackagingUnitRecord, error)
	DeactivatePackagingUnit(ctx context.Context, id uuid.UUID) error
}

type EventStreamer interface {
	ListEventsAfter(ctx context.Context, lotRunID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, lotRunID uuid.UUID, eventID uuid.UUID) (int64, error)
}

type APIKeyResolver interface {
	ResolveAPIKey(ctx context.Context, bearerToken string) (auth.APIKey, bool, error)
}

type APIKeyManager interface {
	CreateAPIKey(ctx context.Context, params domain.CreateAPIKeyParams) (domain.CreatedAPIKey, error)
	ListAPIKeys(ctx context.Context) ([]domain.APIKeyRecord, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
