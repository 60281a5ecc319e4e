package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hackgods/care-marketplace/internal/auth"
	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/config"
	"github.com/hackgods/care-marketplace/internal/db"
	"github.com/hackgods/care-marketplace/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	WalletRatio  float64
	UserLimit    int
	SlotLimit    int
	RaceSize     int
}

// simUser is a seeded account plus a session token for it.
type simUser struct {
	ID    string
	Token string
}

type DataPool struct {
	Users    []simUser
	Slots    []string
	mu       sync.RWMutex
	bookings []createdBooking
}

type createdBooking struct {
	ID    string
	Owner simUser
}

func (dp *DataPool) AddBooking(b createdBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (createdBooking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return createdBooking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	codes     sync.Map
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool, code string) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}
	if code != "" {
		n, _ := om.codes.LoadOrStore(code, new(int64))
		atomic.AddInt64(n.(*int64), 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Race    OperationMetrics
	Booking OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
	List    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     logger.Logger
	metrics Metrics
}

// apiResponse is the subset of the response envelope the simulator reads.
type apiResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		Booking struct {
			ID string `json:"id"`
		} `json:"booking"`
	} `json:"data"`
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logger.New("dev").Fatal("failed to load base config", "error", err)
	}
	log := logger.New(baseCfg.Env).With("component", "simulate")
	defer log.Sync()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	log.Info("simulator starting",
		"duration", cfg.Duration, "workers", cfg.Workers, "race_size", cfg.RaceSize,
		"booking", cfg.BookingRatio, "cancel", cfg.CancelRatio, "read", cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := db.ConnectMongo(ctx, baseCfg.MongoURI, baseCfg.MongoUser, baseCfg.MongoPassword)
	if err != nil {
		log.Fatal("connect mongo", "error", err)
	}
	defer client.Disconnect(context.Background())

	dataPool, err := loadDataPool(ctx, client.Database(baseCfg.MongoDB), auth.NewTokens(baseCfg.JWTSecret, cfg.Duration+time.Hour), cfg)
	if err != nil {
		log.Fatal("load data pool", "error", err)
	}

	log.Info("data pool loaded", "users", len(dataPool.Users), "slots", len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.RunRace()
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		WalletRatio:  getFloat("SIM_WALLET_RATIO", 0.5),
		UserLimit:    getInt("SIM_USER_LIMIT", 200),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2000),
		RaceSize:     getInt("SIM_RACE_SIZE", 20),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, database *mongo.Database, tokens *auth.Tokens, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	cur, err := database.Collection("users").Find(ctx,
		bson.M{"role": booking.RoleUser},
		options.Find().SetLimit(int64(cfg.UserLimit)))
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	var users []booking.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	for _, u := range users {
		tok, err := tokens.Issue(auth.Session{UserID: u.ID, Email: u.Email, Role: string(u.Role)})
		if err != nil {
			return nil, err
		}
		dataPool.Users = append(dataPool.Users, simUser{ID: u.ID, Token: tok})
	}

	cur, err = database.Collection("availability_slots").Find(ctx,
		bson.M{"status": booking.SlotAvailable, "date": bson.M{"$gt": time.Now()}},
		options.Find().SetLimit(int64(cfg.SlotLimit)).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	var slots []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	for _, s := range slots {
		dataPool.Slots = append(dataPool.Slots, s.ID)
	}

	if len(dataPool.Users) == 0 {
		return nil, fmt.Errorf("no users loaded, run seed users first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no available slots loaded, run seed providers first")
	}

	return dataPool, nil
}

// RunRace fires RaceSize concurrent bookings at one slot. Exactly one should
// succeed; the rest should come back slot_unavailable.
func (s *Simulator) RunRace() {
	if s.config.RaceSize <= 0 || len(s.pool.Slots) < 2 {
		return
	}
	slotID := s.pool.Slots[0]
	s.pool.Slots = s.pool.Slots[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.RaceSize; i++ {
		user := s.pool.Users[i%len(s.pool.Users)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.book(ctx, &s.metrics.Race, user, slotID, booking.PaymentCash)
		}()
	}
	close(start)
	wg.Wait()

	if won := atomic.LoadInt64(&s.metrics.Race.Success); won != 1 {
		s.log.Error("slot race produced an unexpected number of bookings", "slot_id", slotID, "bookings", won)
	} else {
		s.log.Info("slot race settled on one booking", "slot_id", slotID)
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
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
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doRead(ctx, rng)
				} else {
					s.doList(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Slots) == 0 {
		return
	}
	user := s.pool.Users[rng.Intn(len(s.pool.Users))]
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	method := booking.PaymentCash
	if rng.Float64() < s.config.WalletRatio {
		method = booking.PaymentWallet
	}
	s.book(ctx, &s.metrics.Booking, user, slotID, method)
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, user simUser, slotID string, method booking.PaymentMethod) {
	body, _ := json.Marshal(map[string]any{
		"slotId":        slotID,
		"patientName":   "Load Test",
		"patientPhone":  "01000000000",
		"paymentMethod": method,
	})

	start := time.Now()
	status, resp, err := s.call(ctx, http.MethodPost, "/api/bookings", user.Token, body)
	latency := time.Since(start)

	if err != nil {
		om.Record(latency, false, false, "transport_error")
		return
	}
	success := status == http.StatusCreated
	if success && resp.Data.Booking.ID != "" {
		s.pool.AddBooking(createdBooking{ID: resp.Data.Booking.ID, Owner: user})
	}
	om.Record(latency, success, status == http.StatusConflict, resp.Code)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	body, _ := json.Marshal(map[string]string{"status": string(booking.StatusCancelled), "cancelReason": "load test"})

	start := time.Now()
	status, resp, err := s.call(ctx, http.MethodPut, "/api/bookings/"+b.ID, b.Owner.Token, body)
	latency := time.Since(start)

	if err != nil {
		s.metrics.Cancel.Record(latency, false, false, "transport_error")
		return
	}
	s.metrics.Cancel.Record(latency, status == http.StatusOK, status == http.StatusConflict, resp.Code)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, resp, err := s.call(ctx, http.MethodGet, "/api/bookings/"+b.ID, b.Owner.Token, nil)
	latency := time.Since(start)

	if err != nil {
		s.metrics.Read.Record(latency, false, false, "transport_error")
		return
	}
	s.metrics.Read.Record(latency, status == http.StatusOK, false, resp.Code)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	user := s.pool.Users[rng.Intn(len(s.pool.Users))]

	start := time.Now()
	status, resp, err := s.call(ctx, http.MethodGet, "/api/bookings?page=1&limit=20", user.Token, nil)
	latency := time.Since(start)

	if err != nil {
		s.metrics.List.Record(latency, false, false, "transport_error")
		return
	}
	s.metrics.List.Record(latency, status == http.StatusOK, false, resp.Code)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body []byte) (int, apiResponse, error) {
	var out apiResponse

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, out, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, out, err
	}
	defer resp.Body.Close()

	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Single-slot race", &s.metrics.Race)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.Read)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	om.codes.Range(func(k, v any) bool {
		fmt.Printf("  code %s: %d\n", k, atomic.LoadInt64(v.(*int64)))
		return true
	})
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
