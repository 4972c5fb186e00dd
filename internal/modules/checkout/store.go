// README: Abandoned-checkout store backed by Mongo.
package checkout

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("checkout not found")

type Store struct {
	col *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{col: db.Collection("abandoned_checkouts")}
}

// Save upserts by checkout_ref, so replayed checkout-abandoned webhooks
// collapse onto one document and never reset the reminded flag.
func (s *Store) Save(ctx context.Context, c *Checkout) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	filter := bson.M{"checkout_ref": c.CheckoutRef}
	update := bson.M{
		"$set": bson.M{
			"customer_name": c.CustomerName,
			"phone":         c.Phone,
			"product":       c.Product,
			"recovery_url":  c.RecoveryURL,
			"updated_at":    c.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"checkout_ref": c.CheckoutRef,
			"reminded":     false,
			"created_at":   c.CreatedAt,
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.col.UpdateOne(ctx, filter, update, opts)
	return err
}

func (s *Store) FindByRef(ctx context.Context, ref string) (*Checkout, error) {
	var res Checkout
	err := s.col.FindOne(ctx, bson.M{"checkout_ref": ref}).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// MarkReminded sets the reminded flag and reports whether this call won the
// claim. A record already reminded (or missing) yields false.
func (s *Store) MarkReminded(ctx context.Context, ref string) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"checkout_ref": ref, "reminded": false},
		bson.M{"$set": bson.M{"reminded": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// ListUnremindedBefore returns checkouts created before the cutoff that were
// never reminded.
func (s *Store) ListUnremindedBefore(ctx context.Context, cutoff time.Time) ([]*Checkout, error) {
	cur, err := s.col.Find(ctx, bson.M{
		"reminded":   false,
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Checkout
	for cur.Next(ctx) {
		var v Checkout
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}
