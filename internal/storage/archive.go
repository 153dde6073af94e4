package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/earnings"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

const insertRideHistory = `
	INSERT INTO ride_history (
		id, rider_id, driver_id, status, vehicle_type,
		pickup_latitude, pickup_longitude, pickup_address,
		dropoff_latitude, dropoff_longitude, dropoff_address,
		estimated_fare, final_fare, distance_km, duration_minutes,
		payment_method, dispatch_rounds, cancelled_by, cancellation_reason,
		requested_at, accepted_at, picked_up_at, completed_at, cancelled_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
	)
	ON CONFLICT (id) DO NOTHING`

const insertRideEarnings = `
	INSERT INTO ride_earnings (
		ride_id, driver_id, gross, commission_rate, commission, net, recorded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (ride_id) DO NOTHING`

const upsertDriverEarnings = `
	INSERT INTO driver_earnings (driver_id, date, total_rides, total_earnings)
	VALUES ($1, CURRENT_DATE, 1, $2)
	ON CONFLICT (driver_id, date) DO UPDATE SET
		total_rides = driver_earnings.total_rides + 1,
		total_earnings = driver_earnings.total_earnings + $2,
		updated_at = NOW()`

const updateDriverTotals = `
	UPDATE drivers
	SET total_rides = total_rides + 1,
		total_earnings = total_earnings + $2,
		updated_at = NOW()
	WHERE id = $1`

// PostgresArchive writes finished rides to ride_history and driver pay to
// ride_earnings / driver_earnings. Both writes are keyed by ride id, so a
// retried handoff does not count twice.
type PostgresArchive struct {
	db     *sql.DB
	now    func() time.Time
	logger *logger.Logger
}

// NewPostgresArchive creates an archive on an open pool
func NewPostgresArchive(db *sql.DB, log *logger.Logger) *PostgresArchive {
	return &PostgresArchive{db: db, now: time.Now, logger: log}
}

// ArchiveRide stores a terminal ride
func (a *PostgresArchive) ArchiveRide(ctx context.Context, r *ride.Ride) error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: archive ride %s in status %s", ride.ErrInvalidTransition, r.ID, r.Status)
	}

	res, err := a.db.ExecContext(ctx, insertRideHistory,
		r.ID, r.RiderID, nullString(r.DriverID), string(r.Status), string(r.VehicleType),
		r.Pickup.Latitude, r.Pickup.Longitude, r.Pickup.Address,
		r.Destination.Latitude, r.Destination.Longitude, r.Destination.Address,
		r.EstimatedFare, r.FinalFare, r.DistanceKM, r.DurationMinutes,
		string(r.PaymentMethod), r.DispatchRound, nullString(string(r.CancelledBy)), nullString(r.CancellationReason),
		r.CreatedAt, r.AcceptedAt, r.PickedUpAt, r.CompletedAt, r.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive ride %s: %w", r.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		a.logger.Debug("Ride already archived", logger.RideID(r.ID))
	}
	return nil
}

// RecordEarnings credits a driver for a completed ride. The per-ride row and
// the running totals are written in one transaction; a ride that already has
// an earnings row is skipped.
func (a *PostgresArchive) RecordEarnings(ctx context.Context, driverID, rideID string, split earnings.Breakdown) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertRideEarnings,
		rideID, driverID, split.Gross, split.CommissionRate, split.Commission, split.Net, a.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ride earnings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		a.logger.Info("Earnings already recorded", logger.RideID(rideID), logger.DriverID(driverID))
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, upsertDriverEarnings, driverID, split.Net); err != nil {
		return fmt.Errorf("failed to update daily earnings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, updateDriverTotals, driverID, split.Net); err != nil {
		return fmt.Errorf("failed to update driver totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit earnings: %w", err)
	}

	a.logger.Info("Driver earnings recorded",
		logger.RideID(rideID),
		logger.DriverID(driverID),
		logger.Float64("gross", split.Gross),
		logger.Float64("net", split.Net),
	)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
