package vehicle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/parkir-api/internal/db"
)

// Unique index names raised by the vehicles table.
const (
	ConstraintPlate = "vehicles_plate_key"
	ConstraintSpot  = "vehicles_lot_spot_key"
)

const vehicleColumns = `id, plate, lot_id, spot, tariff_id, owner_id, owner_name, owner_phone, created_at`

// Store reads and writes vehicles.
type Store struct {
	db db.DBTX
}

// NewStore binds a store to a pool or transaction.
func NewStore(q db.DBTX) *Store {
	return &Store{db: q}
}

func scanVehicle(row interface{ Scan(...any) error }) (Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.Plate, &v.LotID, &v.Spot, &v.TariffID, &v.OwnerID, &v.OwnerName, &v.OwnerPhone, &v.CreatedAt)
	return v, err
}

// Get loads a vehicle.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id))
}

// GetForUpdate loads a vehicle and locks its row until the transaction ends.
func (s *Store) GetForUpdate(ctx context.Context, id uuid.UUID) (Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1 FOR UPDATE`, id))
}

// Insert registers a vehicle.
func (s *Store) Insert(ctx context.Context, v Vehicle) (Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `
INSERT INTO vehicles (plate, lot_id, spot, tariff_id, owner_id, owner_name, owner_phone)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+vehicleColumns,
		v.Plate, v.LotID, v.Spot, v.TariffID, v.OwnerID, v.OwnerName, v.OwnerPhone))
}

// SpotHolder returns the vehicle holding spot in the lot, if any.
func (s *Store) SpotHolder(ctx context.Context, lotID uuid.UUID, spot string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM vehicles WHERE lot_id = $1 AND spot = $2 FOR UPDATE`, lotID, spot).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// SetSpot assigns or clears the spot of a vehicle.
func (s *Store) SetSpot(ctx context.Context, id uuid.UUID, spot *string) (Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `UPDATE vehicles SET spot = $2 WHERE id = $1 RETURNING `+vehicleColumns, id, spot))
}

// SetTariff points the vehicle at another tariff.
func (s *Store) SetTariff(ctx context.Context, id uuid.UUID, tariffID *uuid.UUID) (Vehicle, error) {
	return scanVehicle(s.db.QueryRow(ctx, `UPDATE vehicles SET tariff_id = $2 WHERE id = $1 RETURNING `+vehicleColumns, id, tariffID))
}
