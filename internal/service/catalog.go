package service

import (
	"context"
	"fmt"
	"strings"

	"posledger/internal/domain"
	"posledger/internal/feed"
	"posledger/internal/store"
)

// OrderCatalog is what the order screen can sell: enabled categories and
// the products filed under them.
type OrderCatalog struct {
	Categories []domain.Category `json:"categories"`
	Products   []domain.Product  `json:"products"`
}

func (s *Service) OrderCatalog(ctx context.Context, actor domain.Actor) (OrderCatalog, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return OrderCatalog{}, err
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return OrderCatalog{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return OrderCatalog{}, err
	}

	out := OrderCatalog{Categories: []domain.Category{}, Products: []domain.Product{}}
	enabled := make(map[string]bool, len(categories))
	for _, c := range categories {
		if c.Enabled {
			enabled[c.Name] = true
			out.Categories = append(out.Categories, c)
		}
	}
	for _, p := range products {
		if enabled[p.Category] {
			out.Products = append(out.Products, p)
		}
	}
	return out, nil
}

func (s *Service) ListCategories(ctx context.Context, actor domain.Actor) ([]domain.Category, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, actor domain.Actor, req domain.CategoryCreateRequest) (domain.Category, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return domain.Category{}, err
	}
	category, err := domain.NewCategory(s.newID("cat"), req, s.now().UTC())
	if err != nil {
		return domain.Category{}, err
	}
	created, err := s.repo.CreateCategory(ctx, category)
	if err != nil {
		return domain.Category{}, err
	}
	s.changed(ctx, feed.Categories)
	return *created, nil
}

// UpdateCategory renames or toggles a category. A rename carries the new
// label over to every product filed under the old one.
func (s *Service) UpdateCategory(ctx context.Context, actor domain.Actor, id string, req domain.CategoryUpdateRequest) (domain.Category, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return domain.Category{}, err
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}
	if err := domain.Validate(req); err != nil {
		return domain.Category{}, err
	}

	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	updated := *existing
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Enabled != nil {
		updated.Enabled = *req.Enabled
	}

	saved, err := s.repo.UpdateCategory(ctx, updated)
	if err != nil {
		return domain.Category{}, err
	}

	if saved.Name != existing.Name {
		if err := s.relabelProducts(ctx, existing.Name, saved.Name); err != nil {
			return domain.Category{}, err
		}
		s.changed(ctx, feed.Categories, feed.Products)
	} else {
		s.changed(ctx, feed.Categories)
	}
	return *saved, nil
}

func (s *Service) relabelProducts(ctx context.Context, from string, to string) error {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		if p.Category != from {
			continue
		}
		p.Category = to
		if _, err := s.repo.UpdateProduct(ctx, p); err != nil {
			return fmt.Errorf("relabel product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *Service) DeleteCategory(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, feed.Categories)
	return nil
}

func (s *Service) ListProducts(ctx context.Context, actor domain.Actor) ([]domain.Product, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, actor domain.Actor, id string) (domain.Product, error) {
	if err := requireRole(actor, anyRole); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return domain.Product{}, err
	}
	product, err := domain.NewProduct(s.newID("menu"), req, s.now().UTC())
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.ensureCategoryExists(ctx, product.Category); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.changed(ctx, feed.Products)
	s.logger.Info().Str("product_id", created.ID).Str("by", actor.Email).Int("stock", created.TotalStock).Msg("product created")
	return *created, nil
}

// UpdateProduct edits catalog fields. A stock value in the request resets
// remaining and total stock and writes a reset record.
func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return domain.Product{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
		if err := s.ensureCategoryExists(ctx, updated.Category); err != nil {
			return domain.Product{}, err
		}
	}
	if req.PurchasePrice != nil {
		updated.PurchasePrice = *req.PurchasePrice
	}
	if req.SalesPrice != nil {
		updated.SalesPrice = *req.SalesPrice
	}
	if updated.Name == "" || updated.Category == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	collections := []string{feed.Products}

	if req.Stock != nil {
		record := domain.InventoryRecord{
			ID:        s.newID("inv"),
			Reason:    domain.ReasonReset,
			Timestamp: s.now().UTC(),
		}
		reset, rec, err := s.repo.ResetStock(ctx, saved.ID, *req.Stock, record)
		if err != nil {
			// the catalog fields are already stored
			s.changed(ctx, collections...)
			return domain.Product{}, fmt.Errorf("reset stock: %w", err)
		}
		saved = reset
		s.countRecords([]domain.InventoryRecord{*rec})
		collections = append(collections, feed.Inventory)
	}

	s.changed(ctx, collections...)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, feed.Products)
	return nil
}

func (s *Service) ensureCategoryExists(ctx context.Context, label string) error {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.Name == label {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown category %q", domain.ErrInvalid, label)
}
