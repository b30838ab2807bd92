package repositories

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// memoryPermissionRepository keeps permission records in process memory.
// Used when no metadata database is configured and in tests.
type memoryPermissionRepository struct {
	mu    sync.RWMutex
	byID  map[string]*models.UserPermissions
	clock func() time.Time
}

// NewMemoryPermissionRepository creates an in-memory permission repository seeded with records.
func NewMemoryPermissionRepository(seed ...*models.UserPermissions) PermissionRepository {
	r := &memoryPermissionRepository{
		byID:  make(map[string]*models.UserPermissions),
		clock: time.Now,
	}
	for _, p := range seed {
		_ = r.Upsert(context.Background(), p)
	}
	return r
}

func (r *memoryPermissionRepository) GetByID(_ context.Context, userID string) (*models.UserPermissions, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clonePermissions(p), nil
}

func (r *memoryPermissionRepository) GetByUsername(_ context.Context, username string) (*models.UserPermissions, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username = strings.TrimSpace(username)
	for _, p := range r.byID {
		if strings.EqualFold(p.Username, username) {
			return clonePermissions(p), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memoryPermissionRepository) Upsert(_ context.Context, perms *models.UserPermissions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.byID {
		if id != perms.UserID && strings.EqualFold(p.Username, perms.Username) {
			return fmt.Errorf("username %q is already assigned to another user: %w", perms.Username, apperrors.ErrConflict)
		}
	}

	now := r.clock().UTC()
	perms.UpdatedAt = now
	if existing, ok := r.byID[perms.UserID]; ok {
		perms.CreatedAt = existing.CreatedAt
	} else {
		perms.CreatedAt = now
	}
	r.byID[perms.UserID] = clonePermissions(perms)
	return nil
}

func (r *memoryPermissionRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[userID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, userID)
	return nil
}

func (r *memoryPermissionRepository) List(_ context.Context) ([]*models.UserPermissions, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.UserPermissions, 0, len(r.byID))
	for _, p := range r.byID {
		all = append(all, clonePermissions(p))
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := strings.ToLower(all[i].Username), strings.ToLower(all[j].Username)
		if a != b {
			return a < b
		}
		return all[i].UserID < all[j].UserID
	})
	return all, nil
}

// clonePermissions copies p, preserving nil versus empty allow-lists.
func clonePermissions(p *models.UserPermissions) *models.UserPermissions {
	c := *p
	c.AllowedPlanningAreas = slices.Clone(p.AllowedPlanningAreas)
	c.AllowedScenarios = slices.Clone(p.AllowedScenarios)
	c.AllowedPlants = slices.Clone(p.AllowedPlants)
	c.AllowedTableAccess = slices.Clone(p.AllowedTableAccess)
	return &c
}
