package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/db"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/tariff"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

type lotSeed struct {
	Name     string
	Address  string
	Capacity int
	Tariffs  []tariffSeed
	Vehicles []vehicleSeed
}

type tariffSeed struct {
	Name  string
	Class tariff.Class
	Rate  string
	Cycle int
}

type vehicleSeed struct {
	Plate  string
	Spot   string
	Tariff string
	Owner  string
	Phone  string
}

var seeds = []lotSeed{
	{
		Name:     "Central Garage",
		Address:  "Jl. Sudirman 1",
		Capacity: 40,
		Tariffs: []tariffSeed{
			{Name: "Hourly", Class: tariff.ClassHour, Rate: "5000"},
			{Name: "Daily", Class: tariff.ClassDay, Rate: "40000"},
			{Name: "Monthly pass", Class: tariff.ClassPeriod, Rate: "350000", Cycle: 30},
		},
		Vehicles: []vehicleSeed{
			{Plate: "B 1234 XYZ", Spot: "A1", Tariff: "Monthly pass", Owner: "Budi Santoso", Phone: "+6281100001"},
			{Plate: "B 5678 ABC", Spot: "A2", Tariff: "Monthly pass", Owner: "Siti Aminah", Phone: "+6281100002"},
			{Plate: "D 4321 KL", Tariff: "Hourly"},
		},
	},
	{
		Name:     "Harbour Lot",
		Address:  "Jl. Pelabuhan 9",
		Capacity: 12,
		Tariffs: []tariffSeed{
			{Name: "Per minute", Class: tariff.ClassMinute, Rate: "150"},
			{Name: "Hourly", Class: tariff.ClassHour, Rate: "4000"},
			{Name: "Weekly pass", Class: tariff.ClassPeriod, Rate: "90000", Cycle: 7},
		},
		Vehicles: []vehicleSeed{
			{Plate: "L 777 HB", Spot: "H1", Tariff: "Weekly pass", Owner: "Andi Pratama", Phone: "+6281100003"},
			{Plate: "L 888 HB", Tariff: "Per minute"},
		},
	},
}

func main() {
	envErr := godotenv.Load()
	log := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL")).With().Str("component", "seeder").Logger()
	if envErr != nil {
		log.Debug().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, dbURL, db.PoolOptions{ApplicationName: "parkir-seeder"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	runner := db.NewRunner(pool, 5*time.Second)
	tariffs := &tariff.Service{Q: tariff.NewStore(pool), Timeout: 5 * time.Second}
	vehicles := &vehicle.Service{UoW: vehicle.PgUnit{Runner: runner}, Log: log}

	for _, lot := range seeds {
		if err := seedLot(ctx, pool, tariffs, vehicles, lot, log); err != nil {
			log.Fatal().Err(err).Str("lot", lot.Name).Msg("seed lot")
		}
	}
	log.Info().Msg("seeding completed")
}

func seedLot(ctx context.Context, pool *pgxpool.Pool, tariffs *tariff.Service, vehicles *vehicle.Service, seed lotSeed, log zerolog.Logger) error {
	lotID, err := ensureLot(ctx, pool, seed)
	if err != nil {
		return err
	}
	log = log.With().Str("lot_id", lotID.String()).Logger()

	existing, err := tariffs.List(ctx, lotID)
	if err != nil {
		return err
	}
	byName := make(map[string]tariff.Tariff, len(existing))
	for _, t := range existing {
		byName[t.Name] = t
	}
	for _, ts := range seed.Tariffs {
		if _, ok := byName[ts.Name]; ok {
			continue
		}
		in := tariff.CreateInput{LotID: lotID, Name: ts.Name, Class: ts.Class, Rate: decimal.RequireFromString(ts.Rate)}
		if ts.Cycle > 0 {
			cycle := ts.Cycle
			in.CycleLengthDays = &cycle
		}
		created, err := tariffs.Create(ctx, in)
		if err != nil {
			return err
		}
		byName[created.Name] = created
		log.Info().Str("tariff", created.Name).Msg("tariff created")
	}

	for _, vs := range seed.Vehicles {
		in := vehicle.RegisterInput{Plate: vs.Plate, LotID: lotID, Spot: vs.Spot, OwnerName: vs.Owner, OwnerPhone: vs.Phone}
		if t, ok := byName[vs.Tariff]; ok {
			id := t.ID
			in.TariffID = &id
		}
		v, err := vehicles.Register(ctx, in)
		if common.IsKind(err, common.KindConflict) {
			log.Info().Str("plate", vs.Plate).Msg("vehicle already registered")
			continue
		}
		if err != nil {
			return err
		}
		log.Info().Str("plate", v.Plate).Str("vehicle_id", v.ID.String()).Msg("vehicle registered")
	}
	return nil
}

func ensureLot(ctx context.Context, pool *pgxpool.Pool, seed lotSeed) (id uuid.UUID, err error) {
	err = pool.QueryRow(ctx, `SELECT id FROM lots WHERE name = $1 ORDER BY created_at LIMIT 1`, seed.Name).Scan(&id)
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return id, err
	}
	err = pool.QueryRow(ctx,
		`INSERT INTO lots (name, address, capacity) VALUES ($1, $2, $3) RETURNING id`,
		seed.Name, seed.Address, seed.Capacity,
	).Scan(&id)
	return id, err
}
