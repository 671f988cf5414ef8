package vehicle

import (
	"time"

	"github.com/google/uuid"
)

// Vehicle maps a plate onto a lot, an optional spot and an optional tariff.
type Vehicle struct {
	ID         uuid.UUID  `json:"id"`
	Plate      string     `json:"plate"`
	LotID      uuid.UUID  `json:"lot_id"`
	Spot       *string    `json:"spot,omitempty"`
	TariffID   *uuid.UUID `json:"tariff_id,omitempty"`
	OwnerID    *uuid.UUID `json:"owner_id,omitempty"`
	OwnerName  string     `json:"owner_name"`
	OwnerPhone string     `json:"owner_phone"`
	CreatedAt  time.Time  `json:"created_at"`
}
