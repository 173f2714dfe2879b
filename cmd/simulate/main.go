package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merakihealth/hospital-scheduling/internal/config"
	"github.com/merakihealth/hospital-scheduling/internal/db"
)

// Load simulator for the booking engine. Hammers availability reads,
// bookings, cancels and same-day reschedules against a running api-server
// and reports per-operation latency and conflict rates. Conflicts (409) are
// the expected outcome of racing bookings, not errors.

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	BookingRatio      float64
	RescheduleRatio   float64
	CancelRatio       float64
	PractitionerLimit int
	PatientLimit      int
	PostgresDSN       string
}

type DataPool struct {
	Practitioners []uuid.UUID
	Patients      []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Metrics struct {
	Availability OperationMetrics
	Booking      OperationMetrics
	Reschedule   OperationMetrics
	Cancel       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	day     string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d practitioners, %d patients", len(dataPool.Practitioners), len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		day:    time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"),
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.4),
		RescheduleRatio:   getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		CancelRatio:       getFloat("SIM_CANCEL_RATIO", 0.1),
		PractitionerLimit: getInt("SIM_PRACTITIONER_LIMIT", 50),
		PatientLimit:      getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:       baseCfg.PostgresDSN,
	}
	return cfg
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM practitioners LIMIT $1`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Practitioners = append(dataPool.Practitioners, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	if len(dataPool.Practitioners) == 0 || len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("empty data pool, run cmd/seed first")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

type slotResponse struct {
	SlotStart string `json:"slot_start"`
}

func (s *Simulator) fetchSlots(ctx context.Context, practitionerID uuid.UUID) ([]slotResponse, int, error) {
	u := fmt.Sprintf("%s/practitioners/%s/availability?%s",
		s.config.APIBaseURL, practitionerID,
		url.Values{"date": {s.day}}.Encode())

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var slots []slotResponse
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil && err != io.EOF {
		return nil, resp.StatusCode, err
	}
	return slots, resp.StatusCode, nil
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	practitionerID := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]

	start := time.Now()
	_, status, err := s.fetchSlots(ctx, practitionerID)
	if err != nil {
		s.metrics.Availability.Record(time.Since(start), 0)
		return
	}
	s.metrics.Availability.Record(time.Since(start), status)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	practitionerID := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	slots, _, err := s.fetchSlots(ctx, practitionerID)
	if err != nil || len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]

	body, _ := json.Marshal(map[string]any{
		"hospital_id":     "HOSP01",
		"practitioner_id": practitionerID.String(),
		"patient_id":      patientID.String(),
		"date":            s.day,
		"slot_start":      slot.SlotStart,
		"reason":          "load test visit",
		"session_type":    "checkup",
		"channel":         "in-person",
	})

	start := time.Now()
	status, respBody := s.post(ctx, "/appointments", body)
	s.metrics.Booking.Record(time.Since(start), status)

	if status == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(respBody, &created) == nil {
			s.pool.AddAppointment(created.ID)
		}
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	// Random in-hours target; the engine rejects unavailable ones with 409.
	newStart := fmt.Sprintf("%02d:%02d", 9+rng.Intn(7), 30*rng.Intn(2))
	body, _ := json.Marshal(map[string]string{"new_slot_start": newStart})

	start := time.Now()
	status, _ := s.patch(ctx, "/appointments/"+apptID.String()+"/reschedule", body)
	s.metrics.Reschedule.Record(time.Since(start), status)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.patch(ctx, "/appointments/"+apptID.String()+"/cancel", []byte("{}"))
	s.metrics.Cancel.Record(time.Since(start), status)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte) (int, []byte) {
	return s.send(ctx, http.MethodPost, path, body)
}

func (s *Simulator) patch(ctx context.Context, path string, body []byte) (int, []byte) {
	return s.send(ctx, http.MethodPatch, path, body)
}

func (s *Simulator) send(ctx context.Context, method, path string, body []byte) (int, []byte) {
	req, _ := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (s *Simulator) PrintReport() {
	report := []struct {
		name string
		om   *OperationMetrics
	}{
		{"availability", &s.metrics.Availability},
		{"booking", &s.metrics.Booking},
		{"reschedule", &s.metrics.Reschedule},
		{"cancel", &s.metrics.Cancel},
	}

	fmt.Println("\n=== simulation report ===")
	for _, entry := range report {
		total := atomic.LoadInt64(&entry.om.Total)
		if total == 0 {
			continue
		}
		avg, p50, p95 := entry.om.Stats()
		fmt.Printf("%-12s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s\n",
			entry.name,
			total,
			atomic.LoadInt64(&entry.om.Success),
			atomic.LoadInt64(&entry.om.Conflict),
			atomic.LoadInt64(&entry.om.Error),
			avg, p50, p95)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
