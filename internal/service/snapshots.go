package service

import (
	"context"
	"fmt"

	"posledger/internal/domain"
	"posledger/internal/feed"
)

// SnapshotQuery returns the query a live subscription re-runs on every
// change to collection. Categories and products are readable by every role
// since the order screen sells from them; orders and inventory follow
// their list endpoints.
func (s *Service) SnapshotQuery(actor domain.Actor, collection string) (feed.Query, error) {
	switch collection {
	case feed.Categories:
		if err := requireRole(actor, anyRole); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return s.repo.ListCategories(ctx)
		}, nil
	case feed.Products:
		if err := requireRole(actor, anyRole); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return s.repo.ListProducts(ctx)
		}, nil
	case feed.Orders:
		if err := requireRole(actor, orderEntryRoles); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return s.repo.ListOrders(ctx, domain.OrderQuery{IncludeCancelled: true, Limit: 200})
		}, nil
	case feed.Inventory:
		if err := requireRole(actor, backOfficeRoles); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return s.repo.ListInventoryRecords(ctx, domain.InventoryQuery{Limit: 200})
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown collection %q", domain.ErrInvalid, collection)
	}
}
