package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/go-storefront-api/internal/apperr"
	"github.com/flicky/go-storefront-api/internal/dto"
	"github.com/flicky/go-storefront-api/internal/model"
	"github.com/flicky/go-storefront-api/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockProductRepo struct {
	products map[uuid.UUID]*model.Product
	getCalls int
	lastList model.ProductFilter
}

func newMockProductRepo() *mockProductRepo {
	return &mockProductRepo{products: make(map[uuid.UUID]*model.Product)}
}

func (m *mockProductRepo) add(p model.Product) *model.Product {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.products[p.ID] = &p
	return &p
}

func (m *mockProductRepo) Create(_ context.Context, p *model.Product) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	m.getCalls++
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]model.Product, error) {
	var out []model.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) List(_ context.Context, filter model.ProductFilter) ([]model.Product, int, error) {
	m.lastList = filter
	var all []model.Product
	for _, p := range m.products {
		all = append(all, *p)
	}
	return all, len(all), nil
}

func (m *mockProductRepo) Categories(_ context.Context) ([]string, error) {
	return nil, nil
}

func (m *mockProductRepo) Update(_ context.Context, p *model.Product, stockDelta int) error {
	existing, ok := m.products[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Stock = max(existing.Stock+stockDelta, 0)
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

// racingProductRepo runs sold after every single-product read, standing in
// for an order that commits between an owner's read and write.
type racingProductRepo struct {
	*mockProductRepo
	sold func()
}

func (r *racingProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p, err := r.mockProductRepo.GetByID(ctx, id)
	r.sold()
	return p, err
}

func (m *mockProductRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestProductService_Create(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())
	owner := uuid.New()

	resp, err := svc.Create(context.Background(), owner, dto.ProductRequest{
		Name: "Test", Description: "A thing", Price: price("9.99"), Stock: intPtr(100),
		Category: strPtr("tools"), Image: strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "Test", resp.Name)
	assert.Equal(t, 100, resp.Stock)
	assert.Equal(t, owner, resp.OwnerID)
	require.NotNil(t, resp.Category)
	assert.Equal(t, "tools", *resp.Category)
	assert.Nil(t, resp.Image)
}

func TestProductService_Create_AcceptsTrailingZeros(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())

	resp, err := svc.Create(context.Background(), uuid.New(), dto.ProductRequest{
		Name: "Test", Description: "A thing", Price: price("10.500"),
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.5").Equal(resp.Price))
}

func TestProductService_Create_DefaultsStock(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())

	resp, err := svc.Create(context.Background(), uuid.New(), dto.ProductRequest{
		Name: "Test", Description: "A thing", Price: price("0"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Stock)
}

func TestProductService_Create_Validation(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())

	tests := []struct {
		name string
		req  dto.ProductRequest
	}{
		{"missing name", dto.ProductRequest{Description: "d", Price: price("1")}},
		{"missing description", dto.ProductRequest{Name: "n", Price: price("1")}},
		{"missing price", dto.ProductRequest{Name: "n", Description: "d"}},
		{"negative price", dto.ProductRequest{Name: "n", Description: "d", Price: price("-1")}},
		{"sub-cent price", dto.ProductRequest{Name: "n", Description: "d", Price: price("10.005")}},
		{"negative stock", dto.ProductRequest{Name: "n", Description: "d", Price: price("1"), Stock: intPtr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), uuid.New(), tt.req)
			assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
		})
	}
}

func TestProductService_Create_Unauthenticated(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())
	_, err := svc.Create(context.Background(), uuid.Nil, dto.ProductRequest{Name: "n", Description: "d", Price: price("1")})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestProductService_GetByID_NotFound(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())
	_, err := svc.GetByID(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProductService_GetByID_ReadThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newMockProductRepo()
	p := repo.add(model.Product{Name: "Cached", Price: decimal.NewFromInt(5), Stock: 3})
	svc := NewProductService(repo, rdb, time.Minute, discardLogger())
	ctx := context.Background()

	first, err := svc.GetByID(ctx, p.ID)
	require.NoError(t, err)
	second, err := svc.GetByID(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.getCalls)
	assert.Equal(t, first.Name, second.Name)
	assert.True(t, mr.Exists("product:"+p.ID.String()))
	assert.Equal(t, time.Minute, mr.TTL("product:"+p.ID.String()))
}

func TestProductService_Update_InvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newMockProductRepo()
	owner := uuid.New()
	p := repo.add(model.Product{OwnerID: owner, Name: "Old", Description: "d", Price: decimal.NewFromInt(5)})
	svc := NewProductService(repo, rdb, time.Minute, discardLogger())
	ctx := context.Background()

	_, err := svc.GetByID(ctx, p.ID)
	require.NoError(t, err)

	resp, err := svc.Update(ctx, owner, p.ID, dto.ProductRequest{
		Name: "New", Description: "d", Price: price("7.50"), Stock: intPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "New", resp.Name)
	assert.False(t, mr.Exists("product:"+p.ID.String()))

	got, err := svc.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.True(t, decimal.RequireFromString("7.50").Equal(got.Price))
}

func TestProductService_Update_NotOwner(t *testing.T) {
	repo := newMockProductRepo()
	p := repo.add(model.Product{OwnerID: uuid.New(), Name: "Mine", Description: "d", Price: decimal.NewFromInt(1)})
	svc := NewProductService(repo, nil, time.Minute, discardLogger())

	_, err := svc.Update(context.Background(), uuid.New(), p.ID, dto.ProductRequest{
		Name: "Stolen", Description: "d", Price: price("1"),
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "Mine", repo.products[p.ID].Name)
}

func TestProductService_Update_KeepsConcurrentOrderDecrement(t *testing.T) {
	tests := []struct {
		name  string
		set   int
		sold  int
		stock int
	}{
		{"restock", 10, 2, 8},
		{"clear out", 0, 2, 0},
		{"unchanged stock", 5, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newMockProductRepo()
			owner := uuid.New()
			p := base.add(model.Product{OwnerID: owner, Name: "Lamp", Description: "d", Price: decimal.NewFromInt(10), Stock: 5})
			repo := &racingProductRepo{mockProductRepo: base, sold: func() { base.products[p.ID].Stock -= tt.sold }}
			svc := NewProductService(repo, nil, time.Minute, discardLogger())

			resp, err := svc.Update(context.Background(), owner, p.ID, dto.ProductRequest{
				Name: "Lamp", Description: "d", Price: price("10"), Stock: intPtr(tt.set),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.stock, resp.Stock)
			assert.Equal(t, tt.stock, base.products[p.ID].Stock)
		})
	}
}

func TestProductService_Update_NotFound(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())
	_, err := svc.Update(context.Background(), uuid.New(), uuid.New(), dto.ProductRequest{
		Name: "n", Description: "d", Price: price("1"),
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProductService_Delete(t *testing.T) {
	repo := newMockProductRepo()
	owner := uuid.New()
	p := repo.add(model.Product{OwnerID: owner})
	svc := NewProductService(repo, nil, time.Minute, discardLogger())

	require.NoError(t, svc.Delete(context.Background(), owner, p.ID))
	assert.Empty(t, repo.products)
}

func TestProductService_Delete_NotOwner(t *testing.T) {
	repo := newMockProductRepo()
	p := repo.add(model.Product{OwnerID: uuid.New()})
	svc := NewProductService(repo, nil, time.Minute, discardLogger())

	err := svc.Delete(context.Background(), uuid.New(), p.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Len(t, repo.products, 1)
}

func TestProductService_List_BuildsFilter(t *testing.T) {
	repo := newMockProductRepo()
	repo.add(model.Product{Name: "A"})
	svc := NewProductService(repo, nil, time.Minute, discardLogger())
	inStock := true

	resp, err := svc.List(context.Background(), dto.ListProductsRequest{
		Page: 3, Limit: 10, Search: "  lamp ", Categories: []string{"home", " ", "garden"},
		InStock: &inStock, Sort: "price", Order: "desc",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 3, resp.Page)
	assert.Equal(t, model.ProductFilter{
		Search: "lamp", Categories: []string{"home", "garden"}, InStock: &inStock,
		Sort: "price", Order: "desc", Limit: 10, Offset: 20,
	}, repo.lastList)
}

func TestProductService_Categories_NeverNil(t *testing.T) {
	svc := NewProductService(newMockProductRepo(), nil, time.Minute, discardLogger())
	categories, err := svc.Categories(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, categories)
	assert.Empty(t, categories)
}
