// Package dispatcher orchestrates the request lifecycle: it takes new
// requests in, decides which providers see them, and serializes competing
// accept attempts through the store's conditional write.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/observability"
	"github.com/example/roadside-dispatch/internal/storage"
)

var (
	// ErrAlreadyClaimed means the accept lost the race after bounded
	// retries. The caller should re-query candidates.
	ErrAlreadyClaimed = errors.New("dispatcher: request already claimed")
	// ErrConflict means a complete/cancel write lost a version race to a
	// concurrent transition. The record is unchanged.
	ErrConflict = errors.New("dispatcher: conflicting update in flight")
)

// Notifier announces new work to providers. Delivery is best effort;
// polling ListCandidates stays the source of truth.
type Notifier interface {
	RequestCreated(providerID string, r models.ServiceRequest) error
}

type Coordinator struct {
	Store    storage.RequestStore
	Geo      geo.Index
	Notifier Notifier // optional

	// SearchRadiusM bounds how far away a PENDING request may be to count
	// as a candidate for a provider.
	SearchRadiusM float64
	// MaxCandidates caps the candidate list length per query.
	MaxCandidates int
	// AcceptRetries bounds the read-validate-write loop in Accept.
	AcceptRetries int
	// NotifyNearest is how many providers get a best-effort ping on submit.
	NotifyNearest int
}

func (c *Coordinator) retries() int {
	if c.AcceptRetries <= 0 {
		return 3
	}
	return c.AcceptRetries
}

// Submit validates and persists a new request, then pings the nearest
// capable providers about it.
func (c *Coordinator) Submit(ctx context.Context, customerID string, loc models.Location, vi models.VehicleInfo, description, serviceType string) (models.ServiceRequest, error) {
	r, err := lifecycle.Create(uuid.NewString(), customerID, loc, vi, description, serviceType, time.Now())
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if err := c.Store.Create(ctx, r); err != nil {
		return models.ServiceRequest{}, fmt.Errorf("persist request %s: %w", r.ID, err)
	}
	observability.RequestsSubmitted.Inc()
	c.announce(r)
	return r, nil
}

func (c *Coordinator) announce(r models.ServiceRequest) {
	if c.Notifier == nil {
		return
	}
	n := c.NotifyNearest
	if n <= 0 {
		n = 5
	}
	for _, p := range c.Geo.Nearest(r.Location.Coord, n, geo.Filter{ServiceType: r.ServiceType}) {
		_ = c.Notifier.RequestCreated(p.ID, r)
	}
}

// ListCandidates returns the PENDING requests near the provider's current
// location, closest first, earlier requests winning distance ties. Each call
// is a fresh snapshot; staleness is bounded only by the caller's polling
// interval.
func (c *Coordinator) ListCandidates(ctx context.Context, providerID string) ([]models.ServiceRequest, error) {
	p, ok := c.Geo.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, storage.ErrNotFound)
	}
	pending, err := c.Store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	type scored struct {
		r    models.ServiceRequest
		dist float64
	}
	arr := make([]scored, 0, len(pending))
	for _, r := range pending {
		if !p.Capable(r.ServiceType) {
			continue
		}
		dist := geo.Haversine(p.Loc.Lat, p.Loc.Lon, r.Location.Coord.Lat, r.Location.Coord.Lon)
		if c.SearchRadiusM > 0 && dist > c.SearchRadiusM {
			continue
		}
		arr = append(arr, scored{r, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].r.CreatedAt.Before(arr[j].r.CreatedAt)
	})
	if c.MaxCandidates > 0 && len(arr) > c.MaxCandidates {
		arr = arr[:c.MaxCandidates]
	}
	out := make([]models.ServiceRequest, 0, len(arr))
	for _, e := range arr {
		out = append(out, e.r)
	}
	observability.CandidatesServed.Observe(float64(len(out)))
	return out, nil
}

// Accept claims a PENDING request for a provider. The read-validate-write
// cycle retries on version conflicts a bounded number of times; once the
// request is visibly claimed by someone else the attempt fails closed with
// ErrAlreadyClaimed. At most one provider ever wins a given request.
func (c *Coordinator) Accept(ctx context.Context, requestID, providerID string) (models.ServiceRequest, error) {
	p, ok := c.Geo.Get(providerID)
	if !ok {
		return models.ServiceRequest{}, fmt.Errorf("provider %s: %w", providerID, storage.ErrNotFound)
	}

	for attempt := 0; attempt < c.retries(); attempt++ {
		cur, err := c.Store.Get(ctx, requestID)
		if err != nil {
			return models.ServiceRequest{}, fmt.Errorf("read request %s: %w", requestID, err)
		}
		next, err := lifecycle.Accept(cur, p, time.Now())
		if err != nil {
			if errors.Is(err, lifecycle.ErrInvalidTransition) && cur.Status == models.StatusAccepted {
				// someone else got there first
				observability.AcceptsLost.Inc()
				return models.ServiceRequest{}, fmt.Errorf("request %s: %w", requestID, ErrAlreadyClaimed)
			}
			return models.ServiceRequest{}, err
		}
		err = c.Store.CompareAndSwap(ctx, cur.Version, next)
		if err == nil {
			observability.AcceptsWon.Inc()
			return next, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return models.ServiceRequest{}, fmt.Errorf("claim request %s: %w", requestID, err)
		}
		observability.CASConflicts.Inc()
	}
	observability.AcceptsLost.Inc()
	return models.ServiceRequest{}, fmt.Errorf("request %s: %w", requestID, ErrAlreadyClaimed)
}

// Complete marks an accepted request finished. Contention is low here, only
// the assigned provider may act, so a lost version race surfaces as
// ErrConflict instead of being retried.
func (c *Coordinator) Complete(ctx context.Context, requestID, providerID string) (models.ServiceRequest, error) {
	return c.transition(ctx, requestID, func(cur models.ServiceRequest) (models.ServiceRequest, error) {
		return lifecycle.Complete(cur, providerID, time.Now())
	})
}

// Cancel voids a PENDING or ACCEPTED request on behalf of the owning
// customer or the assigned provider. A cancel racing an in-flight accept is
// safe: whichever conditional write lands first wins, the loser gets a typed
// conflict.
func (c *Coordinator) Cancel(ctx context.Context, requestID string, actor models.Actor) (models.ServiceRequest, error) {
	return c.transition(ctx, requestID, func(cur models.ServiceRequest) (models.ServiceRequest, error) {
		return lifecycle.Cancel(cur, actor, time.Now())
	})
}

func (c *Coordinator) transition(ctx context.Context, requestID string, apply func(models.ServiceRequest) (models.ServiceRequest, error)) (models.ServiceRequest, error) {
	cur, err := c.Store.Get(ctx, requestID)
	if err != nil {
		return models.ServiceRequest{}, fmt.Errorf("read request %s: %w", requestID, err)
	}
	next, err := apply(cur)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if err := c.Store.CompareAndSwap(ctx, cur.Version, next); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.CASConflicts.Inc()
			return models.ServiceRequest{}, fmt.Errorf("request %s: %w", requestID, ErrConflict)
		}
		return models.ServiceRequest{}, fmt.Errorf("write request %s: %w", requestID, err)
	}
	return next, nil
}
