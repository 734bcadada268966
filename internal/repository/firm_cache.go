package repository

import (
	"context"
	"time"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/pkg/cache"
	"github.com/firmdesk/firmdesk/pkg/database"
)

// firmCacheTTL is short: a suspended firm must be rejected on the next token
// refresh at the latest, and the auth pipeline reads firms on every request.
const firmCacheTTL = 30 * time.Second

// CachedFirmRepository is a read-through cache over a FirmRepository. Writes
// pass through and invalidate the affected entries.
type CachedFirmRepository struct {
	inner domain.FirmRepository
	cache *cache.Cache
}

// NewCachedFirmRepository wraps a firm repository with an in-memory cache.
func NewCachedFirmRepository(inner domain.FirmRepository) *CachedFirmRepository {
	return &CachedFirmRepository{inner: inner, cache: cache.New()}
}

func (r *CachedFirmRepository) Create(ctx context.Context, tx *database.Tx, firm *domain.Firm) error {
	return r.inner.Create(ctx, tx, firm)
}

func (r *CachedFirmRepository) SetDefaultClient(ctx context.Context, tx *database.Tx, firmID, clientID string) error {
	if err := r.inner.SetDefaultClient(ctx, tx, firmID, clientID); err != nil {
		return err
	}
	r.invalidate(firmID)
	return nil
}

func (r *CachedFirmRepository) UpdateStatus(ctx context.Context, tx *database.Tx, firmID string, status domain.FirmStatus) error {
	if err := r.inner.UpdateStatus(ctx, tx, firmID, status); err != nil {
		return err
	}
	r.invalidate(firmID)
	return nil
}

func (r *CachedFirmRepository) GetByID(ctx context.Context, id string) (*domain.Firm, error) {
	if v, ok := r.cache.Get("firm:id:" + id); ok {
		return v.(*domain.Firm), nil
	}
	firm, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(firm)
	return firm, nil
}

func (r *CachedFirmRepository) GetBySlug(ctx context.Context, slug string) (*domain.Firm, error) {
	if v, ok := r.cache.Get("firm:slug:" + slug); ok {
		return v.(*domain.Firm), nil
	}
	firm, err := r.inner.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	r.store(firm)
	return firm, nil
}

func (r *CachedFirmRepository) GetByName(ctx context.Context, name string) (*domain.Firm, error) {
	return r.inner.GetByName(ctx, name)
}

func (r *CachedFirmRepository) store(firm *domain.Firm) {
	r.cache.Set("firm:id:"+firm.ID, firm, firmCacheTTL)
	r.cache.Set("firm:slug:"+firm.Slug, firm, firmCacheTTL)
}

// invalidate drops all cached views of one firm. The slug entry cannot be
// looked up from the ID alone, so the whole firm prefix is cleared.
func (r *CachedFirmRepository) invalidate(firmID string) {
	r.cache.Delete("firm:id:" + firmID)
	r.cache.Invalidate("firm:slug:")
}
