package readmodel

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrOrderMissing means an update-type event arrived for an order the read
// model has never seen. With per-order publish ordering this is transient
// (the insert event is still in flight) and worth a redelivery.
var ErrOrderMissing = errors.New("order document not found")

type Store struct {
	orders  *mongo.Collection
	returns *mongo.Collection
}

func NewStore(database *mongo.Database) *Store {
	return &Store{
		orders:  database.Collection("orders"),
		returns: database.Collection("returns"),
	}
}

// InsertOrder writes the full snapshot document. Replay-safe: a redelivered
// insert event replaces the document with identical content.
func (s *Store) InsertOrder(ctx context.Context, doc OrderDocument) error {
	_, err := s.orders.ReplaceOne(ctx,
		bson.M{"_id": doc.OrderID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order document: %w", err)
	}
	return nil
}

// ApplyTransition sets the new status and pushes the history entry, merging
// any extra fields. The filter excludes documents that already hold an
// identical history entry, so a replayed event matches nothing and the
// history array is never duplicated. No upsert: the document must exist.
func (s *Store) ApplyTransition(ctx context.Context, orderID string, status string, entry HistoryDocument, extra bson.M) error {
	filter := bson.M{
		"_id": orderID,
		"history": bson.M{
			"$not": bson.M{
				"$elemMatch": bson.M{
					"new_status": entry.NewStatus,
					"changed_at": entry.ChangedAt,
				},
			},
		},
	}

	set := bson.M{
		"status":     status,
		"updated_at": entry.ChangedAt,
	}
	for key, value := range extra {
		set[key] = value
	}

	result, err := s.orders.UpdateOne(ctx, filter, bson.M{
		"$set":  set,
		"$push": bson.M{"history": entry},
	})
	if err != nil {
		return fmt.Errorf("failed to apply %s transition: %w", status, err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// Zero matches is either a replay (entry already present) or a missing
	// document; only the latter is an error.
	count, err := s.orders.CountDocuments(ctx, bson.M{"_id": orderID})
	if err != nil {
		return fmt.Errorf("failed to check order document: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrOrderMissing, orderID)
	}
	return nil
}

// FlagReturn links the order document to its return. Naturally idempotent.
func (s *Store) FlagReturn(ctx context.Context, orderID, returnID string) error {
	result, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": orderID},
		bson.M{"$set": bson.M{"has_return": true, "return_id": returnID}},
	)
	if err != nil {
		return fmt.Errorf("failed to flag return on order: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrOrderMissing, orderID)
	}
	return nil
}

// InsertReturn writes the return document, replay-safe like InsertOrder.
func (s *Store) InsertReturn(ctx context.Context, doc ReturnDocument) error {
	_, err := s.returns.ReplaceOne(ctx,
		bson.M{"_id": doc.ReturnID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to insert return document: %w", err)
	}
	return nil
}
