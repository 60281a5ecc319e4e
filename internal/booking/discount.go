package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrInvalidDiscount = fmt.Errorf("%w: invalid discount code", ErrValidation)

// DiscountPolicy prices a discount code against a slot price. Quote must not
// consume the code; Redeem is called once the booking is persisted.
type DiscountPolicy interface {
	Quote(ctx context.Context, code string, price int64) (int64, error)
	Redeem(ctx context.Context, code string) error
}

// NoDiscount ignores codes and never discounts.
type NoDiscount struct{}

func (NoDiscount) Quote(context.Context, string, int64) (int64, error) { return 0, nil }
func (NoDiscount) Redeem(context.Context, string) error { return nil }

type DiscountKind string

const (
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

type Discount struct {
	ID         string       `bson:"_id" json:"id"`
	Code       string       `bson:"code" json:"code"`
	Kind       DiscountKind `bson:"kind" json:"kind"`
	Value      int64        `bson:"value" json:"value"`
	Active     bool         `bson:"active" json:"active"`
	ExpiresAt  time.Time    `bson:"expiresAt" json:"expiresAt"`
	UsageCount int          `bson:"usageCount" json:"usageCount"`
	MaxUsage   int          `bson:"maxUsage" json:"maxUsage"`
	MinOrder   int64        `bson:"minOrder" json:"minOrder"`
}

// Amount returns the discount for price, clamped to [0, price].
func (d Discount) Amount(price int64) int64 {
	var amt int64
	switch d.Kind {
	case DiscountPercent:
		amt = price * d.Value / 100
	case DiscountFixed:
		amt = d.Value
	}
	if amt < 0 {
		return 0
	}
	if amt > price {
		return price
	}
	return amt
}

func (d Discount) check(price int64, now time.Time) error {
	switch {
	case !d.Active:
		return fmt.Errorf("%w: %s is not active", ErrInvalidDiscount, d.Code)
	case !d.ExpiresAt.IsZero() && d.ExpiresAt.Before(now):
		return fmt.Errorf("%w: %s has expired", ErrInvalidDiscount, d.Code)
	case d.MaxUsage > 0 && d.UsageCount >= d.MaxUsage:
		return fmt.Errorf("%w: %s usage limit reached", ErrInvalidDiscount, d.Code)
	case d.MinOrder > 0 && price < d.MinOrder:
		return fmt.Errorf("%w: minimum order for %s is %d", ErrInvalidDiscount, d.Code, d.MinOrder)
	}
	return nil
}

// MongoDiscountPolicy reads codes from the discounts collection.
type MongoDiscountPolicy struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoDiscountPolicy(db *mongo.Database) *MongoDiscountPolicy {
	return &MongoDiscountPolicy{coll: db.Collection(discountsCollection), now: time.Now}
}

// Quote validates the code and prices it without consuming a use. The usage
// cap is only enforced again by Redeem after the booking is stored, so two
// bookings racing for the last use of a code can both be quoted. The loser's
// Redeem fails and is only logged; that booking keeps its discount.
func (p *MongoDiscountPolicy) Quote(ctx context.Context, code string, price int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	var d Discount
	err := p.coll.FindOne(ctx, bson.M{"code": strings.ToUpper(code)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDiscount, code)
	}
	if err != nil {
		return 0, fmt.Errorf("load discount: %w", err)
	}
	if err := d.check(price, p.now()); err != nil {
		return 0, err
	}
	return d.Amount(price), nil
}

// Redeem bumps usageCount while the code is still under its limit.
func (p *MongoDiscountPolicy) Redeem(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	res, err := p.coll.UpdateOne(ctx,
		bson.M{
			"code": strings.ToUpper(code),
			"$or": bson.A{
				bson.M{"maxUsage": bson.M{"$lte": 0}},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$usageCount", "$maxUsage"}}},
			},
		},
		bson.M{"$inc": bson.M{"usageCount": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s exhausted", ErrInvalidDiscount, code)
	}
	return nil
}
