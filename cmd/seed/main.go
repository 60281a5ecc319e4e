package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hackgods/care-marketplace/internal/auth"
	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/config"
	"github.com/hackgods/care-marketplace/internal/db"
	"github.com/hackgods/care-marketplace/internal/logger"
)

// Collection names shared with the booking repository.
const (
	usersCollection     = "users"
	providersCollection = "providers"
	slotsCollection     = "availability_slots"
	discountsCollection = "discounts"
)

var specialties = []string{
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

var slotTypes = []booking.SlotType{
	booking.SlotClinic,
	booking.SlotHospital,
	booking.SlotOnline,
	booking.SlotHome,
}

type seedOptions struct {
	providers int
	users     int
	days      int
	slotMins  int
	seed      int64
	drop      bool
}

func main() {
	opts := &seedOptions{}

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the care marketplace database with fake data",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			gofakeit.Seed(opts.seed)
		},
	}
	rootCmd.PersistentFlags().Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")
	rootCmd.PersistentFlags().BoolVar(&opts.drop, "drop", false, "empty the target collections first")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Seed providers and their availability slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, database *mongo.Database, _ config.Config, log logger.Logger) error {
				ids, err := seedProviders(ctx, database, opts, log)
				if err != nil {
					return err
				}
				return seedSlots(ctx, database, ids, opts, log)
			})
		},
	}
	providersCmd.Flags().IntVar(&opts.providers, "count", 20, "number of providers")
	providersCmd.Flags().IntVar(&opts.days, "days", 7, "days of availability per provider")
	providersCmd.Flags().IntVar(&opts.slotMins, "slot-minutes", 30, "slot length in minutes")

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Seed users with funded wallets and one admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, database *mongo.Database, _ config.Config, log logger.Logger) error {
				return seedUsers(ctx, database, opts, log)
			})
		},
	}
	usersCmd.Flags().IntVar(&opts.users, "count", 200, "number of users")

	discountsCmd := &cobra.Command{
		Use:   "discounts",
		Short: "Seed a few discount codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, database *mongo.Database, _ config.Config, log logger.Logger) error {
				return seedDiscounts(ctx, database, opts, log)
			})
		},
	}

	allCmd := &cobra.Command{
		Use:   "all",
		Short: "Seed providers, slots, users and discounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, database *mongo.Database, _ config.Config, log logger.Logger) error {
				ids, err := seedProviders(ctx, database, opts, log)
				if err != nil {
					return err
				}
				if err := seedSlots(ctx, database, ids, opts, log); err != nil {
					return err
				}
				if err := seedUsers(ctx, database, opts, log); err != nil {
					return err
				}
				return seedDiscounts(ctx, database, opts, log)
			})
		},
	}
	allCmd.Flags().IntVar(&opts.providers, "providers", 20, "number of providers")
	allCmd.Flags().IntVar(&opts.users, "users", 200, "number of users")
	allCmd.Flags().IntVar(&opts.days, "days", 7, "days of availability per provider")
	allCmd.Flags().IntVar(&opts.slotMins, "slot-minutes", 30, "slot length in minutes")

	var tokenLimit int
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Print session tokens for seeded users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, database *mongo.Database, cfg config.Config, _ logger.Logger) error {
				return printTokens(ctx, database, auth.NewTokens(cfg.JWTSecret, 0), tokenLimit)
			})
		},
	}
	tokensCmd.Flags().IntVar(&tokenLimit, "limit", 10, "number of users to print tokens for")

	rootCmd.AddCommand(providersCmd, usersCmd, discountsCmd, allCmd, tokensCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withDatabase(fn func(ctx context.Context, database *mongo.Database, cfg config.Config, log logger.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env).With("component", "seed")
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoUser, cfg.MongoPassword)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if err := fn(ctx, client.Database(cfg.MongoDB), cfg, log); err != nil {
		log.Error("seed failed", "error", err)
		return err
	}
	log.Info("seed complete")
	return nil
}

func prepare(ctx context.Context, coll *mongo.Collection, drop bool) error {
	if !drop {
		return nil
	}
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("empty %s: %w", coll.Name(), err)
	}
	return nil
}

func seedProviders(ctx context.Context, database *mongo.Database, opts *seedOptions, log logger.Logger) ([]string, error) {
	coll := database.Collection(providersCollection)
	if err := prepare(ctx, coll, opts.drop); err != nil {
		return nil, err
	}

	log.Info("seeding providers", "count", opts.providers)

	docs := make([]interface{}, 0, opts.providers)
	ids := make([]string, 0, opts.providers)
	for i := 0; i < opts.providers; i++ {
		p := booking.Provider{
			ID:              primitive.NewObjectID().Hex(),
			Name:            "Dr. " + gofakeit.Name(),
			Specialty:       specialties[gofakeit.Number(0, len(specialties)-1)],
			ConsultationFee: int64(gofakeit.Number(10, 60)) * 1000,
			ReceptionType:   booking.ReceptionOpen,
		}
		if gofakeit.Bool() {
			p.ReceptionType = booking.ReceptionLimited
			p.ReceptionCapacity = gofakeit.Number(3, 12)
		}
		docs = append(docs, p)
		ids = append(ids, p.ID)
	}

	if len(docs) == 0 {
		return ids, nil
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("insert providers: %w", err)
	}
	log.Info("providers seeded", "count", len(ids))
	return ids, nil
}

// seedSlots opens a working day of 09:00 to 17:00 for every provider over the
// next opts.days days.
func seedSlots(ctx context.Context, database *mongo.Database, providerIDs []string, opts *seedOptions, log logger.Logger) error {
	coll := database.Collection(slotsCollection)
	if err := prepare(ctx, coll, opts.drop); err != nil {
		return err
	}
	if opts.slotMins <= 0 {
		return fmt.Errorf("slot-minutes must be > 0")
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	const batchSize = 500
	var total int
	batch := make([]interface{}, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := coll.InsertMany(ctx, batch); err != nil {
			return fmt.Errorf("insert slots: %w", err)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, providerID := range providerIDs {
		price := int64(gofakeit.Number(10, 60)) * 1000
		slotType := slotTypes[gofakeit.Number(0, len(slotTypes)-1)]

		for d := 1; d <= opts.days; d++ {
			day := today.AddDate(0, 0, d)
			for start := 9 * 60; start+opts.slotMins <= 17*60; start += opts.slotMins {
				batch = append(batch, booking.Slot{
					ID:         primitive.NewObjectID().Hex(),
					ProviderID: providerID,
					Date:       day,
					StartTime:  clock(start),
					EndTime:    clock(start + opts.slotMins),
					Duration:   opts.slotMins,
					Type:       slotType,
					Price:      price,
					Status:     booking.SlotAvailable,
					CreatedAt:  now,
					UpdatedAt:  now,
				})
				if len(batch) == batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
		log.Debug("slots seeded for provider", "provider_id", providerID)
	}
	if err := flush(); err != nil {
		return err
	}

	log.Info("slots seeded", "count", total)
	return nil
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func seedUsers(ctx context.Context, database *mongo.Database, opts *seedOptions, log logger.Logger) error {
	coll := database.Collection(usersCollection)
	if err := prepare(ctx, coll, opts.drop); err != nil {
		return err
	}

	log.Info("seeding users", "count", opts.users)

	docs := make([]interface{}, 0, opts.users+1)
	docs = append(docs, booking.User{
		ID:    primitive.NewObjectID().Hex(),
		Email: "admin@care.local",
		Name:  gofakeit.Name(),
		Phone: gofakeit.Phone(),
		Role:  booking.RoleAdmin,
	})
	for i := 0; i < opts.users; i++ {
		docs = append(docs, booking.User{
			ID:            primitive.NewObjectID().Hex(),
			Email:         fmt.Sprintf("%d.%s", i, gofakeit.Email()),
			Name:          gofakeit.Name(),
			Phone:         gofakeit.Phone(),
			Role:          booking.RoleUser,
			WalletBalance: int64(gofakeit.Number(0, 200)) * 1000,
		})
	}

	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert users: %w", err)
	}
	log.Info("users seeded", "count", len(docs))
	return nil
}

func seedDiscounts(ctx context.Context, database *mongo.Database, opts *seedOptions, log logger.Logger) error {
	coll := database.Collection(discountsCollection)
	if err := prepare(ctx, coll, opts.drop); err != nil {
		return err
	}

	expires := time.Now().UTC().AddDate(0, 3, 0)
	docs := []interface{}{
		booking.Discount{ID: primitive.NewObjectID().Hex(), Code: "WELCOME10", Kind: booking.DiscountPercent, Value: 10, Active: true, ExpiresAt: expires, MaxUsage: 1000},
		booking.Discount{ID: primitive.NewObjectID().Hex(), Code: "CARE50", Kind: booking.DiscountFixed, Value: 5000, Active: true, ExpiresAt: expires, MaxUsage: 100, MinOrder: 20000},
		booking.Discount{ID: primitive.NewObjectID().Hex(), Code: "EXPIRED", Kind: booking.DiscountPercent, Value: 50, Active: true, ExpiresAt: time.Now().UTC().AddDate(0, 0, -1)},
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert discounts: %w", err)
	}
	log.Info("discounts seeded", "count", len(docs))
	return nil
}

// printTokens writes one "id email role token" line per user so that the
// simulator and manual curl sessions can authenticate.
func printTokens(ctx context.Context, database *mongo.Database, tokens *auth.Tokens, limit int) error {
	cur, err := database.Collection(usersCollection).Find(ctx, bson.M{}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return fmt.Errorf("find users: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u booking.User
		if err := cur.Decode(&u); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		tok, err := tokens.Issue(auth.Session{UserID: u.ID, Email: u.Email, Role: string(u.Role)})
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Role, tok)
	}
	return cur.Err()
}
