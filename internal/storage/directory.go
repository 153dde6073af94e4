package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/domain/rider"
)

// PostgresDirectory reads rider and driver contact cards from the riders and
// drivers tables
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory on an open pool
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetRiderContact loads a rider card
func (d *PostgresDirectory) GetRiderContact(ctx context.Context, riderID string) (rider.Contact, error) {
	var c rider.Contact
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, phone
		FROM riders
		WHERE id = $1
	`, riderID).Scan(&c.ID, &c.Name, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return rider.Contact{}, fmt.Errorf("%w: %s", rider.ErrRiderNotFound, riderID)
	}
	if err != nil {
		return rider.Contact{}, fmt.Errorf("failed to load rider %s: %w", riderID, err)
	}
	return c, nil
}

// GetDriverContact loads a driver card
func (d *PostgresDirectory) GetDriverContact(ctx context.Context, driverID string) (driver.Contact, error) {
	var (
		c                         driver.Contact
		vehicleType               string
		vehicleMake, model, plate string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, phone, rating, vehicle_type,
			vehicle_make, vehicle_model, vehicle_plate, verified
		FROM drivers
		WHERE id = $1
	`, driverID).Scan(&c.ID, &c.Name, &c.Phone, &c.Rating, &vehicleType, &vehicleMake, &model, &plate, &c.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return driver.Contact{}, fmt.Errorf("%w: %s", driver.ErrDriverNotFound, driverID)
	}
	if err != nil {
		return driver.Contact{}, fmt.Errorf("failed to load driver %s: %w", driverID, err)
	}

	c.VehicleType = driver.VehicleType(vehicleType)
	if !c.VehicleType.IsValid() {
		return driver.Contact{}, fmt.Errorf("%w: driver %s has %q", driver.ErrInvalidVehicleType, driverID, vehicleType)
	}
	c.VehicleSummary = vehicleSummary(vehicleMake, model, plate)
	return c, nil
}

// vehicleSummary renders "Toyota Etios (KA01AB1234)"
func vehicleSummary(vehicleMake, model, plate string) string {
	s := strings.TrimSpace(vehicleMake + " " + model)
	if plate == "" {
		return s
	}
	if s == "" {
		return plate
	}
	return fmt.Sprintf("%s (%s)", s, plate)
}
