package service

import (
	"bytes"
	"context"
	"strings"

	"posledger/internal/domain"
	"posledger/internal/export"
	"posledger/internal/feed"
)

// AdjustInventory applies a manual add or subtract. The store clamps the
// result at zero; the record keeps the signed amount as entered.
func (s *Service) AdjustInventory(ctx context.Context, actor domain.Actor, productID string, req domain.AdjustmentRequest) (domain.InventoryRecord, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return domain.InventoryRecord{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	record, err := domain.NewAdjustment(s.newID("inv"), *product, req, s.now().UTC())
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	applied, err := s.repo.AdjustStock(ctx, record)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.countRecords([]domain.InventoryRecord{*applied})
	s.changed(ctx, feed.Inventory, feed.Products)
	s.logger.Info().
		Str("product_id", applied.ProductID).
		Int("adjustment", applied.Adjustment).
		Int("after_stock", applied.AfterStock).
		Str("reason", applied.Reason).
		Msg("inventory adjusted")
	return *applied, nil
}

// DailyReset restores every product's remaining stock to its total stock.
func (s *Service) DailyReset(ctx context.Context, actor domain.Actor) ([]domain.InventoryRecord, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return nil, err
	}
	records, err := s.repo.ResetAllStock(ctx, domain.ReasonDailyReset, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.InventoryRecord{}
	}
	s.countRecords(records)
	if len(records) > 0 {
		s.changed(ctx, feed.Inventory, feed.Products)
	}
	s.logger.Info().Str("by", actor.Email).Int("products", len(records)).Msg("daily stock reset")
	return records, nil
}

func (s *Service) ListInventory(ctx context.Context, actor domain.Actor, query domain.InventoryQuery) ([]domain.InventoryRecord, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return nil, err
	}
	query.ProductID = strings.TrimSpace(query.ProductID)
	query.Type = strings.ToLower(strings.TrimSpace(query.Type))
	if query.Limit < 1 || query.Limit > 1000 {
		query.Limit = 500
	}
	return s.repo.ListInventoryRecords(ctx, query)
}

type InventoryExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportInventory renders the inventory history as a download stamped with
// today's date in the shop's time zone.
func (s *Service) ExportInventory(ctx context.Context, actor domain.Actor, format string, query domain.InventoryQuery) (InventoryExport, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return InventoryExport{}, err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return InventoryExport{}, err
	}
	query.Limit = 0
	records, err := s.repo.ListInventoryRecords(ctx, query)
	if err != nil {
		return InventoryExport{}, err
	}

	var buf bytes.Buffer
	if err := export.WriteInventory(&buf, f, records, s.loc); err != nil {
		return InventoryExport{}, err
	}
	return InventoryExport{
		Filename:    export.Filename("inventory-history", f, s.now(), s.loc),
		ContentType: f.ContentType(),
		Body:        buf.Bytes(),
	}, nil
}
