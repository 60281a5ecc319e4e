package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection       = "users"
	providersCollection   = "providers"
	slotsCollection       = "availability_slots"
	bookingsCollection    = "bookings"
	paymentsCollection    = "payment_transactions"
	walletTxCollection    = "wallet_transactions"
	discountsCollection   = "discounts"
	defaultUnsettledLimit = 100
)

// MongoRepository implements Repository on top of a mongo database.
type MongoRepository struct {
	users     *mongo.Collection
	providers *mongo.Collection
	slots     *mongo.Collection
	bookings  *mongo.Collection
	payments  *mongo.Collection
	walletTx  *mongo.Collection
}

func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	r := &MongoRepository{
		users:     db.Collection(usersCollection),
		providers: db.Collection(providersCollection),
		slots:     db.Collection(slotsCollection),
		bookings:  db.Collection(bookingsCollection),
		payments:  db.Collection(paymentsCollection),
		walletTx:  db.Collection(walletTxCollection),
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{r.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{r.slots, []mongo.IndexModel{
			{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		}},
		{r.bookings, []mongo.IndexModel{
			{Keys: bson.D{{Key: "bookingNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{
				{Key: "paymentMethod", Value: 1},
				{Key: "paymentStatus", Value: 1},
				{Key: "status", Value: 1},
				{Key: "createdAt", Value: 1},
			}},
		}},
		{r.payments, []mongo.IndexModel{
			{Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "bookingId", Value: 1}, {Key: "type", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{r.walletTx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "referenceId", Value: 1}, {Key: "type", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

func (r *MongoRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *MongoRepository) GetProviderByID(ctx context.Context, id string) (*Provider, error) {
	var p Provider
	err := r.providers.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MongoRepository) IncrementProviderPatients(ctx context.Context, id string) error {
	res, err := r.providers.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"totalPatients": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// AddProviderRating recomputes the average from the stored values in the
// same update that bumps reviewsCount, so concurrent ratings never read a
// stale pair.
func (r *MongoRepository) AddProviderRating(ctx context.Context, id string, rating int) error {
	count := bson.M{"$ifNull": bson.A{"$reviewsCount", 0}}
	avg := bson.M{"$ifNull": bson.A{"$rating", 0}}
	res, err := r.providers.UpdateOne(ctx,
		bson.M{"_id": id},
		mongo.Pipeline{{{Key: "$set", Value: bson.M{
			"rating": bson.M{"$divide": bson.A{
				bson.M{"$add": bson.A{bson.M{"$multiply": bson.A{avg, count}}, rating}},
				bson.M{"$add": bson.A{count, 1}},
			}},
			"reviewsCount": bson.M{"$add": bson.A{count, 1}},
		}}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *MongoRepository) ReserveSlot(ctx context.Context, slotID string) (*Slot, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var s Slot
	err := r.slots.FindOneAndUpdate(ctx,
		bson.M{"_id": slotID, "status": SlotAvailable},
		bson.M{"$set": bson.M{"status": SlotBooked, "updatedAt": time.Now()}},
		opts,
	).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSlotUnavailable
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) ReleaseSlot(ctx context.Context, slotID string) error {
	_, err := r.slots.UpdateOne(ctx,
		bson.M{"_id": slotID},
		bson.M{
			"$set":   bson.M{"status": SlotAvailable, "updatedAt": time.Now()},
			"$unset": bson.M{"bookingId": ""},
		},
	)
	return err
}

func (r *MongoRepository) LinkSlotBooking(ctx context.Context, slotID, bookingID string) error {
	_, err := r.slots.UpdateOne(ctx,
		bson.M{"_id": slotID},
		bson.M{"$set": bson.M{"bookingId": bookingID, "updatedAt": time.Now()}},
	)
	return err
}

func (r *MongoRepository) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == "" {
		b.ID = primitive.NewObjectID().Hex()
	}
	_, err := r.bookings.InsertOne(ctx, b)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("booking %s: %w", b.BookingNumber, ErrDuplicate)
	}
	return err
}

func (r *MongoRepository) GetBookingByID(ctx context.Context, id string) (*Booking, error) {
	var b Booking
	err := r.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *MongoRepository) ListBookings(ctx context.Context, f ListFilter) ([]Booking, int, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.ProviderID != "" {
		filter["providerId"] = f.ProviderID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.StartDate != nil || f.EndDate != nil {
		date := bson.M{}
		if f.StartDate != nil {
			date["$gte"] = *f.StartDate
		}
		if f.EndDate != nil {
			date["$lte"] = *f.EndDate
		}
		filter["date"] = date
	}

	total, err := r.bookings.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "startTime", Value: -1}}).
		SetSkip(int64(f.Page-1) * int64(f.Limit)).
		SetLimit(int64(f.Limit))

	cur, err := r.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	out := []Booking{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

func (r *MongoRepository) CountActiveBookingsOnDay(ctx context.Context, providerID string, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	n, err := r.bookings.CountDocuments(ctx, bson.M{
		"providerId": providerID,
		"date":       bson.M{"$gte": start, "$lt": start.AddDate(0, 0, 1)},
		"status":     bson.M{"$nin": []Status{StatusCancelled, StatusNoShow}},
	})
	return int(n), err
}

func (r *MongoRepository) UpdateBookingStatus(ctx context.Context, id string, from Status, change StatusChange) (*Booking, error) {
	set := bson.M{"status": change.To, "updatedAt": change.At}
	switch change.To {
	case StatusCancelled:
		set["cancelledAt"] = change.At
		set["cancelledBy"] = change.CancelledBy
		if change.CancelReason != "" {
			set["cancelReason"] = change.CancelReason
		}
	case StatusCompleted:
		set["completedAt"] = change.At
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b Booking
	err := r.bookings.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		opts,
	).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := r.GetBookingByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *MongoRepository) MarkBookingPaid(ctx context.Context, id string, at time.Time) error {
	res, err := r.bookings.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusPending, "paymentStatus": PaymentPending},
		bson.M{"$set": bson.M{
			"status":        StatusConfirmed,
			"paymentStatus": PaymentPaid,
			"updatedAt":     at,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	b, err := r.GetBookingByID(ctx, id)
	if err != nil {
		return err
	}
	if b.PaymentStatus == PaymentPaid {
		return nil
	}
	return ErrInvalidTransition
}

func (r *MongoRepository) MarkBookingPaymentFailed(ctx context.Context, id string, at time.Time) error {
	res, err := r.bookings.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusPending, "paymentStatus": PaymentPending},
		bson.M{"$set": bson.M{
			"status":        StatusCancelled,
			"paymentStatus": PaymentFailed,
			"cancelReason":  "wallet settlement failed",
			"cancelledAt":   at,
			"updatedAt":     at,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *MongoRepository) SetBookingPaymentStatus(ctx context.Context, id string, status PaymentStatus) error {
	res, err := r.bookings.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"paymentStatus": status, "updatedAt": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *MongoRepository) RateBooking(ctx context.Context, id string, rating int, review string, at time.Time) (*Booking, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b Booking
	err := r.bookings.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": StatusCompleted, "rating": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{
			"rating":     rating,
			"review":     review,
			"reviewedAt": at,
			"updatedAt":  at,
		}},
		opts,
	).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, getErr := r.GetBookingByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == StatusCompleted {
			return nil, ErrAlreadyRated
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *MongoRepository) DeleteBooking(ctx context.Context, id string) error {
	res, err := r.bookings.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *MongoRepository) FindUnsettledWalletBookings(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = defaultUnsettledLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.bookings.Find(ctx, bson.M{
		"paymentMethod": PaymentWallet,
		"paymentStatus": PaymentPending,
		"status":        StatusPending,
		"createdAt":     bson.M{"$lt": createdBefore},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Booking
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) CreatePaymentTransaction(ctx context.Context, tx *PaymentTransaction) error {
	if tx.ID == "" {
		tx.ID = primitive.NewObjectID().Hex()
	}
	_, err := r.payments.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s transaction for booking %s: %w", tx.Type, tx.BookingID, ErrDuplicate)
	}
	return err
}

func (r *MongoRepository) GetPaymentTransaction(ctx context.Context, bookingID string, typ TxType) (*PaymentTransaction, error) {
	var tx PaymentTransaction
	err := r.payments.FindOne(ctx, bson.M{"bookingId": bookingID, "type": typ}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *MongoRepository) SetPaymentTransactionStatus(ctx context.Context, bookingID string, typ TxType, status TxStatus, at time.Time) error {
	set := bson.M{"status": status, "updatedAt": at}
	switch status {
	case TxCompleted:
		set["completedAt"] = at
	case TxFailed:
		set["failedAt"] = at
	}

	res, err := r.payments.UpdateOne(ctx,
		bson.M{"bookingId": bookingID, "type": typ},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *MongoRepository) DebitWallet(ctx context.Context, userID, bookingID string, amount int64) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{
			"_id":           userID,
			"walletBalance": bson.M{"$gte": amount},
			"walletDebits":  bson.M{"$ne": bookingID},
		},
		bson.M{
			"$inc":  bson.M{"walletBalance": -amount},
			"$push": bson.M{"walletDebits": bookingID},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: either already debited, short of funds, or no user.
	n, err := r.users.CountDocuments(ctx, bson.M{"_id": userID, "walletDebits": bookingID})
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return ErrInsufficientFunds
}

func (r *MongoRepository) CreditWallet(ctx context.Context, userID, bookingID string, amount int64) (bool, error) {
	res, err := r.users.UpdateOne(ctx,
		bson.M{"_id": userID, "walletDebits": bookingID},
		bson.M{
			"$inc":  bson.M{"walletBalance": amount},
			"$pull": bson.M{"walletDebits": bookingID},
		},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *MongoRepository) RecordWalletTransaction(ctx context.Context, tx *WalletTransaction) error {
	if tx.ID == "" {
		tx.ID = primitive.NewObjectID().Hex()
	}
	opts := options.Update().SetUpsert(true)
	_, err := r.walletTx.UpdateOne(ctx,
		bson.M{"referenceId": tx.ReferenceID, "type": tx.Type},
		bson.M{"$setOnInsert": tx},
		opts,
	)
	return err
}
