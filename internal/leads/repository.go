package leads

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, lead *Lead) error
	GetByID(ctx context.Context, id string) (*Lead, error)
	GetByPhone(ctx context.Context, phone string) (*Lead, error)
	Update(ctx context.Context, lead *Lead) error
	List(ctx context.Context, filter ListFilter) ([]*Lead, error)
}

// prepareNew fills the identity and bookkeeping fields of a lead about to be inserted.
func prepareNew(lead *Lead, now time.Time) error {
	if strings.TrimSpace(lead.Phone) == "" {
		return ErrMissingPhone
	}
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if !lead.Status.Valid() {
		lead.Status = StatusNew
	}
	if lead.History == nil {
		lead.History = []Turn{}
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	return nil
}

// InMemoryRepository keeps leads in process memory. Reads and writes copy the
// lead so callers never alias stored history.
type InMemoryRepository struct {
	mu      sync.RWMutex
	leads   map[string]*Lead
	byPhone map[string]string
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads:   make(map[string]*Lead),
		byPhone: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new lead; the phone must not be taken.
func (r *InMemoryRepository) Create(ctx context.Context, lead *Lead) error {
	if err := prepareNew(lead, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byPhone[lead.Phone]; taken {
		return ErrDuplicatePhone
	}
	r.leads[lead.ID] = lead.Clone()
	r.byPhone[lead.Phone] = lead.ID
	return nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.Clone(), nil
}

// GetByPhone retrieves a lead by its E.164 phone.
func (r *InMemoryRepository) GetByPhone(ctx context.Context, phone string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPhone[phone]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return r.leads[id].Clone(), nil
}

// Update replaces the stored lead with the given one.
func (r *InMemoryRepository) Update(ctx context.Context, lead *Lead) error {
	if lead.ID == "" {
		return ErrMissingID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.leads[lead.ID]
	if !ok {
		return ErrLeadNotFound
	}
	if current.Phone != lead.Phone {
		if owner, taken := r.byPhone[lead.Phone]; taken && owner != lead.ID {
			return ErrDuplicatePhone
		}
		delete(r.byPhone, current.Phone)
		r.byPhone[lead.Phone] = lead.ID
	}
	lead.UpdatedAt = r.now()
	r.leads[lead.ID] = lead.Clone()
	return nil
}

// List returns leads newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = filter.normalized()

	r.mu.RLock()
	all := make([]*Lead, 0, len(r.leads))
	for _, lead := range r.leads {
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		all = append(all, lead.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if filter.Offset >= len(all) {
		return []*Lead{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[filter.Offset:end], nil
}
