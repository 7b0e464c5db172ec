package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/models"
)

// PostgresStore persists requests in a single table. The conditional write
// is an UPDATE guarded by the version column; RowsAffected tells us whether
// our version was still current.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const requestColumns = `id, customer_id, provider_id, address, lat, lon, vehicle_make, vehicle_model, vehicle_reg, description, service_type, status, version, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ServiceRequest{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) Create(ctx context.Context, r models.ServiceRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO service_requests(`+requestColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.CustomerID, nullable(r.ProviderID), r.Location.Address, r.Location.Coord.Lat, r.Location.Coord.Lon,
		r.VehicleInfo.Make, r.VehicleInfo.Model, r.VehicleInfo.RegNumber, r.Description, r.ServiceType,
		string(r.Status), r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) CompareAndSwap(ctx context.Context, expectedVersion int64, r models.ServiceRequest) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE service_requests SET provider_id=$1, status=$2, version=$3, updated_at=$4 WHERE id=$5 AND version=$6`,
		nullable(r.ProviderID), string(r.Status), r.Version, r.UpdatedAt, r.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("conditional write: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// distinguish a missing row from a stale version
		var one int
		err := p.db.QueryRowContext(ctx, `SELECT 1 FROM service_requests WHERE id=$1`, r.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string) ([]models.ServiceRequest, error) {
	return p.queryRequests(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE customer_id=$1`, customerID)
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string) ([]models.ServiceRequest, error) {
	return p.queryRequests(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE provider_id=$1`, providerID)
}

func (p *PostgresStore) ListPending(ctx context.Context) ([]models.ServiceRequest, error) {
	return p.queryRequests(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE status=$1`, string(models.StatusPending))
}

func (p *PostgresStore) queryRequests(ctx context.Context, q string, args ...any) ([]models.ServiceRequest, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (models.ServiceRequest, error) {
	var r models.ServiceRequest
	var provider sql.NullString
	var status string
	err := s.Scan(&r.ID, &r.CustomerID, &provider, &r.Location.Address, &r.Location.Coord.Lat, &r.Location.Coord.Lon,
		&r.VehicleInfo.Make, &r.VehicleInfo.Model, &r.VehicleInfo.RegNumber, &r.Description, &r.ServiceType,
		&status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	r.ProviderID = provider.String
	r.Status = models.RequestStatus(status)
	return r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
