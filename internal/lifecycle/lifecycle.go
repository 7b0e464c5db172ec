// Package lifecycle is the request state machine. Every function here is
// pure: it takes the record it was given, an event and the acting party, and
// returns either a new record with the version bumped or a typed rejection.
// Persistence and retries live with the caller.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

var (
	ErrValidation        = errors.New("lifecycle: invalid request data")
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	ErrNotAuthorized     = errors.New("lifecycle: actor not authorized")
)

// Create builds a fresh PENDING request at version 1.
func Create(id, customerID string, loc models.Location, vi models.VehicleInfo, description, serviceType string, now time.Time) (models.ServiceRequest, error) {
	if id == "" || customerID == "" {
		return models.ServiceRequest{}, fmt.Errorf("%w: missing id or customer", ErrValidation)
	}
	if err := validateLocation(loc); err != nil {
		return models.ServiceRequest{}, err
	}
	if strings.TrimSpace(vi.RegNumber) == "" {
		return models.ServiceRequest{}, fmt.Errorf("%w: vehicle registration required", ErrValidation)
	}
	return models.ServiceRequest{
		ID:          id,
		CustomerID:  customerID,
		Location:    loc,
		VehicleInfo: vi,
		Description: description,
		ServiceType: serviceType,
		Status:      models.StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Accept moves PENDING -> ACCEPTED and assigns the provider. The provider
// must be available and offer the requested service type; a request in any
// other state is rejected unchanged.
func Accept(r models.ServiceRequest, p models.Provider, now time.Time) (models.ServiceRequest, error) {
	if r.Status != models.StatusPending {
		return r, fmt.Errorf("%w: accept on %s request %s", ErrInvalidTransition, r.Status, r.ID)
	}
	if p.ID == "" {
		return r, fmt.Errorf("%w: missing provider", ErrValidation)
	}
	if !p.Available || !p.Capable(r.ServiceType) {
		return r, fmt.Errorf("%w: provider %s cannot serve request %s", ErrNotAuthorized, p.ID, r.ID)
	}
	next := r
	next.ProviderID = p.ID
	next.Status = models.StatusAccepted
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// Complete moves ACCEPTED -> COMPLETED. Only the assigned provider may do it.
func Complete(r models.ServiceRequest, providerID string, now time.Time) (models.ServiceRequest, error) {
	if r.Status != models.StatusAccepted {
		return r, fmt.Errorf("%w: complete on %s request %s", ErrInvalidTransition, r.Status, r.ID)
	}
	if providerID == "" || providerID != r.ProviderID {
		return r, fmt.Errorf("%w: provider %s is not assigned to request %s", ErrNotAuthorized, providerID, r.ID)
	}
	next := r
	next.Status = models.StatusCompleted
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// Cancel moves PENDING or ACCEPTED -> CANCELLED. The owning customer may
// cancel at any point before completion; the assigned provider may cancel an
// accepted job back out of existence.
func Cancel(r models.ServiceRequest, actor models.Actor, now time.Time) (models.ServiceRequest, error) {
	if r.Status.Terminal() {
		return r, fmt.Errorf("%w: cancel on %s request %s", ErrInvalidTransition, r.Status, r.ID)
	}
	if !canCancel(r, actor) {
		return r, fmt.Errorf("%w: actor %s may not cancel request %s", ErrNotAuthorized, actor.ID, r.ID)
	}
	next := r
	next.Status = models.StatusCancelled
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

func canCancel(r models.ServiceRequest, actor models.Actor) bool {
	switch actor.Role {
	case models.RoleCustomer:
		return actor.ID == r.CustomerID
	case models.RoleProvider:
		return r.ProviderID != "" && actor.ID == r.ProviderID
	default:
		return false
	}
}

func validateLocation(loc models.Location) error {
	if loc.Coord.Lat < -90 || loc.Coord.Lat > 90 || loc.Coord.Lon < -180 || loc.Coord.Lon > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if strings.TrimSpace(loc.Address) == "" {
		return fmt.Errorf("%w: address required", ErrValidation)
	}
	return nil
}
