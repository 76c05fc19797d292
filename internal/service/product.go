package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-storefront-api/internal/apperr"
	"github.com/flicky/go-storefront-api/internal/dto"
	"github.com/flicky/go-storefront-api/internal/model"
	"github.com/flicky/go-storefront-api/internal/repository"
)

type ProductService struct {
	productRepo repository.ProductRepository
	redisClient *redis.Client
	cacheTTL    time.Duration
	log         *slog.Logger
}

func NewProductService(productRepo repository.ProductRepository, redisClient *redis.Client, cacheTTL time.Duration, log *slog.Logger) *ProductService {
	return &ProductService{productRepo: productRepo, redisClient: redisClient, cacheTTL: cacheTTL, log: log}
}

func productCacheKey(id uuid.UUID) string {
	return "product:" + id.String()
}

func (s *ProductService) Create(ctx context.Context, ownerID uuid.UUID, req dto.ProductRequest) (*dto.ProductResponse, error) {
	if ownerID == uuid.Nil {
		return nil, apperr.Unauthorized()
	}
	product := &model.Product{OwnerID: ownerID}
	if err := applyProductRequest(product, req); err != nil {
		return nil, err
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, apperr.Internal(err)
	}
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	key := productCacheKey(id)

	if s.redisClient != nil {
		if cached, err := s.redisClient.Get(ctx, key).Bytes(); err == nil {
			var resp dto.ProductResponse
			if json.Unmarshal(cached, &resp) == nil {
				return &resp, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.log.Warn("product cache read failed", "product_id", id, "error", err)
		}
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("get product: %w", err))
	}
	if product == nil {
		return nil, apperr.NotFound("product not found")
	}

	resp := toProductResponse(product)
	if s.redisClient != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
				s.log.Warn("product cache write failed", "product_id", id, "error", err)
			}
		}
	}
	return &resp, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 20
	}
	filter := model.ProductFilter{
		Search:     strings.TrimSpace(req.Search),
		Categories: nonEmpty(req.Categories),
		InStock:    req.InStock,
		MinStock:   req.MinStock,
		Sort:       req.Sort,
		Order:      req.Order,
		Limit:      req.Limit,
		Offset:     (req.Page - 1) * req.Limit,
	}
	products, total, err := s.productRepo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list products: %w", err))
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i]))
	}
	return &dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (s *ProductService) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.productRepo.Categories(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list categories: %w", err))
	}
	if categories == nil {
		categories = []string{}
	}
	return categories, nil
}

func (s *ProductService) Update(ctx context.Context, ownerID, id uuid.UUID, req dto.ProductRequest) (*dto.ProductResponse, error) {
	product, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	read := product.Stock
	if err := applyProductRequest(product, req); err != nil {
		return nil, err
	}

	// Stock is applied as a change against what the owner saw so orders
	// committed in between keep their decrement.
	if err := s.productRepo.Update(ctx, product, product.Stock-read); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("product not found")
		}
		return nil, apperr.Internal(fmt.Errorf("update product: %w", err))
	}

	s.invalidateCache(ctx, id)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.productRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("product not found")
		}
		return apperr.Internal(fmt.Errorf("delete product: %w", err))
	}
	s.invalidateCache(ctx, id)
	return nil
}

func (s *ProductService) owned(ctx context.Context, ownerID, id uuid.UUID) (*model.Product, error) {
	if ownerID == uuid.Nil {
		return nil, apperr.Unauthorized()
	}
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("get product: %w", err))
	}
	if product == nil {
		return nil, apperr.NotFound("product not found")
	}
	if product.OwnerID != ownerID {
		return nil, apperr.Forbidden("you do not own this product")
	}
	return product, nil
}

// ProductCache drops cached product reads whose stock changed outside the
// product service.
type ProductCache interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

// Invalidate removes the cached reads of ids.
func (s *ProductService) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if s.redisClient == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productCacheKey(id)
	}
	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn("product cache invalidation failed", "product_ids", ids, "error", err)
	}
}

func (s *ProductService) invalidateCache(ctx context.Context, id uuid.UUID) {
	s.Invalidate(ctx, id)
}

// applyProductRequest validates req and copies it onto p. Create and update
// share the same full-replacement rules.
func applyProductRequest(p *model.Product, req dto.ProductRequest) error {
	name := strings.TrimSpace(req.Name)
	description := strings.TrimSpace(req.Description)
	if name == "" || description == "" {
		return apperr.InvalidRequest("name and description are required")
	}
	if req.Price == nil {
		return apperr.InvalidRequest("price is required")
	}
	if req.Price.IsNegative() {
		return apperr.InvalidRequest("price must not be negative")
	}
	if !req.Price.Equal(req.Price.Round(2)) {
		return apperr.InvalidRequest("price must have at most 2 decimal places")
	}
	stock := 0
	if req.Stock != nil {
		stock = *req.Stock
	}
	if stock < 0 {
		return apperr.InvalidRequest("stock must not be negative")
	}

	p.Name = name
	p.Description = description
	p.Price = *req.Price
	p.Stock = stock
	p.Category = optional(req.Category)
	p.Image = optional(req.Image)
	return nil
}

func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toProductResponse(p *model.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Category:    p.Category,
		Image:       p.Image,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
