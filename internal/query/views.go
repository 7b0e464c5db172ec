// Package query builds role-scoped read views over the request store.
// Everything here is read-only.
package query

import (
	"context"
	"sort"

	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/storage"
)

type Views struct {
	Store storage.RequestStore
}

// RequestsForCustomer returns every request the customer ever submitted,
// newest first.
func (v Views) RequestsForCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error) {
	rs, err := v.Store.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(rs)
	return rs, nil
}

// JobsForProvider returns every request ever assigned to the provider, any
// status, newest first.
func (v Views) JobsForProvider(ctx context.Context, providerID string) ([]models.ServiceRequest, error) {
	rs, err := v.Store.ListByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(rs)
	return rs, nil
}

func sortNewestFirst(rs []models.ServiceRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
