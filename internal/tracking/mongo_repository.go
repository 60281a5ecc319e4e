package tracking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const trackingCollection = "trackings"

type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	coll := db.Collection(trackingCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "trackingNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "referenceType", Value: 1}, {Key: "referenceId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "currentStatus", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create tracking indexes: %w", err)
	}
	return &MongoRepository{coll: coll}, nil
}

func (r *MongoRepository) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = primitive.NewObjectID().Hex()
	}
	_, err := r.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*Record, error) {
	var rec Record
	err := r.coll.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) GetByReference(ctx context.Context, refType ReferenceType, refID string) (*Record, error) {
	return r.findOne(ctx, bson.M{"referenceType": refType, "referenceId": refID})
}

func (r *MongoRepository) GetByTrackingNumber(ctx context.Context, number string) (*Record, error) {
	return r.findOne(ctx, bson.M{"trackingNumber": number})
}

func fieldsSet(f Fields, set bson.M) bson.M {
	if f.AssignedTo != nil {
		set["assignedTo"] = *f.AssignedTo
	}
	if f.AssignedToPhone != nil {
		set["assignedToPhone"] = *f.AssignedToPhone
	}
	if f.ResultsFileURL != nil {
		set["resultsFileUrl"] = *f.ResultsFileURL
	}
	if f.Notes != nil {
		set["notes"] = *f.Notes
	}
	if f.ActualDelivery != nil {
		set["actualDelivery"] = *f.ActualDelivery
	}
	return set
}

func (r *MongoRepository) AppendStatus(ctx context.Context, id string, entry HistoryEntry, f Fields) (*Record, error) {
	set := fieldsSet(f, bson.M{
		"currentStatus": entry.Status,
		"updatedAt":     entry.CreatedAt,
	})

	var rec Record
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"statusHistory": entry},
			"$set":  set,
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *MongoRepository) UpdateFields(ctx context.Context, id string, f Fields) (*Record, error) {
	set := fieldsSet(f, bson.M{"updatedAt": time.Now()})

	var rec Record
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *MongoRepository) List(ctx context.Context, f ListFilter) ([]Record, int, error) {
	filter := bson.M{}
	if f.ReferenceType != "" {
		filter["referenceType"] = f.ReferenceType
	}
	if f.Status != "" {
		filter["currentStatus"] = f.Status
	}
	if f.Search != "" {
		rx := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"trackingNumber": rx},
			bson.M{"assignedTo": rx},
		}
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(f.Page-1) * int64(f.Limit)).
		SetLimit(int64(f.Limit))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	out := []Record{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

// MongoSubjectUpdater writes tracking progress onto the subject collections.
type MongoSubjectUpdater struct {
	collections map[ReferenceType]*mongo.Collection
}

func NewMongoSubjectUpdater(db *mongo.Database) *MongoSubjectUpdater {
	return &MongoSubjectUpdater{
		collections: map[ReferenceType]*mongo.Collection{
			HomeTest:     db.Collection("test_requests"),
			HomeNursing:  db.Collection("nursing_requests"),
			ProductOrder: db.Collection("orders"),
		},
	}
}

// subjectFilter matches both ObjectID and string ids.
func subjectFilter(refID string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(refID); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, refID}}}
	}
	return bson.M{"_id": refID}
}

func (u *MongoSubjectUpdater) update(ctx context.Context, refType ReferenceType, refID string, set bson.M) error {
	coll, ok := u.collections[refType]
	if !ok {
		return fmt.Errorf("no subject collection for %s", refType)
	}
	set["updatedAt"] = time.Now()
	res, err := coll.UpdateOne(ctx, subjectFilter(refID), bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: subject not found", refType, refID)
	}
	return nil
}

func (u *MongoSubjectUpdater) SetStatus(ctx context.Context, refType ReferenceType, refID, status string) error {
	return u.update(ctx, refType, refID, bson.M{"status": status})
}

func (u *MongoSubjectUpdater) SetResultsFile(ctx context.Context, refType ReferenceType, refID, url string) error {
	return u.update(ctx, refType, refID, bson.M{"resultsFileUrl": url})
}
