// simulate hammers the booking API with concurrent bookers fighting
// over a small set of provider slots, then audits the database to show
// the no-double-booking invariant held.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/medisched/booking-engine/internal/db"
	"github.com/medisched/booking-engine/internal/scheduling"
)

type simConfig struct {
	apiBaseURL  string
	postgresDSN string
	workers     int
	duration    time.Duration
	providers   int
	slotTimes   []string
}

type simMetrics struct {
	total    int64
	booked   int64
	conflict int64
	errors   int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *simMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.booked, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	default:
		atomic.AddInt64(&m.errors, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *simMetrics) percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	_ = godotenv.Load()

	cfg := simConfig{
		apiBaseURL:  envOr("SIM_API_URL", "http://localhost:8080"),
		postgresDSN: os.Getenv("POSTGRES_DSN"),
		workers:     32,
		duration:    30 * time.Second,
		providers:   3,
		slotTimes:   []string{"09:00", "09:30", "10:00", "10:30", "11:00"},
	}
	if cfg.postgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.postgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	providerIDs, err := loadIDs(ctx, pool, "providers", cfg.providers)
	if err != nil {
		log.Fatalf("load providers: %v", err)
	}
	patientIDs, err := loadIDs(ctx, pool, "patients", 200)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	if len(providerIDs) == 0 || len(patientIDs) == 0 {
		log.Fatal("run cmd/seed first: no providers or patients found")
	}

	// Everyone books next Monday so contention is maximal.
	date := nextMonday(time.Now())

	log.Printf("simulating %d workers for %s against %d providers x %d slots on %s",
		cfg.workers, cfg.duration, len(providerIDs), len(cfg.slotTimes), date)

	metrics := &simMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, stop := context.WithTimeout(ctx, cfg.duration)
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				provider := providerIDs[rng.Intn(len(providerIDs))]
				patient := patientIDs[rng.Intn(len(patientIDs))]
				slot := cfg.slotTimes[rng.Intn(len(cfg.slotTimes))]
				bookOnce(runCtx, client, cfg.apiBaseURL, metrics, patient, provider, date, slot)
			}
		}(int64(w))
	}
	wg.Wait()

	log.Printf("requests=%d booked=%d conflict=%d errors=%d p50=%s p95=%s",
		metrics.total, metrics.booked, metrics.conflict, metrics.errors,
		metrics.percentile(50), metrics.percentile(95))

	doubles, err := countDoubleBookings(ctx, pool, date)
	if err != nil {
		log.Fatalf("audit double bookings: %v", err)
	}
	if doubles > 0 {
		log.Fatalf("INVARIANT VIOLATED: %d slots with more than one active appointment", doubles)
	}
	log.Println("audit passed: no provider slot holds more than one active appointment")
}

func bookOnce(ctx context.Context, client *http.Client, baseURL string, metrics *simMetrics, patient, provider uuid.UUID, date, slot string) {
	body, _ := json.Marshal(map[string]any{
		"patient_id":   patient.String(),
		"provider_id":  provider.String(),
		"date":         date,
		"time":         slot,
		"duration_min": 30,
		"type":         "General",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.record(time.Since(start), 0)
		}
		return
	}
	resp.Body.Close()
	metrics.record(time.Since(start), resp.StatusCode)
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, table string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s LIMIT %d`, table, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool, date string) (int, error) {
	var doubles int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT provider_id, slot_date, slot_time
			FROM appointments
			WHERE slot_date = $1
			  AND status NOT IN ('rejected', 'cancelled')
			GROUP BY provider_id, slot_date, slot_time
			HAVING count(*) > 1
		) conflicts
	`, date).Scan(&doubles)
	return doubles, err
}

func nextMonday(now time.Time) string {
	d := scheduling.NormalizeDate(now)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return scheduling.FormatDate(d)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
