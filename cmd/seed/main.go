package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/medisched/booking-engine/internal/db"
	"github.com/medisched/booking-engine/internal/scheduling"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedTemplates(context.Background(), pool, providerIDs); err != nil {
		log.Fatalf("seed templates: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedTemplates gives every provider a Monday-to-Friday week. Start
// hours and capacity vary so the generated slot grids differ.
func seedTemplates(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Printf("seeding weekly templates for %d providers", len(providerIDs))

	repo := scheduling.NewPgRepository(pool)
	capacities := []int{1, 2, 3, 4, 6}

	for _, providerID := range providerIDs {
		startHour := gofakeit.Number(8, 10)
		endHour := gofakeit.Number(16, 18)
		capacity := capacities[gofakeit.Number(0, len(capacities)-1)]

		entries := make([]scheduling.AvailabilityTemplate, 0, 5)
		for dow := 1; dow <= 5; dow++ {
			breakStart := scheduling.NewTimeOfDay(12, 0)
			breakEnd := scheduling.NewTimeOfDay(13, 0)
			entries = append(entries, scheduling.AvailabilityTemplate{
				ProviderID:      providerID,
				DayOfWeek:       dow,
				StartTime:       scheduling.NewTimeOfDay(startHour, 0),
				EndTime:         scheduling.NewTimeOfDay(endHour, 0),
				BreakStart:      &breakStart,
				BreakEnd:        &breakEnd,
				CapacityPerHour: capacity,
				Active:          true,
			})
		}

		if err := repo.UpsertWeeklyTemplate(ctx, providerID, entries); err != nil {
			return err
		}
	}

	log.Println("templates seeded")
	return nil
}
