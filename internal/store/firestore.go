package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/local/printquote/internal/order"
)

// Firestore keeps one document per order in a collection.
type Firestore struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
}

// NewFirestore connects using a service-account file. An empty projectID is
// detected from the credentials.
func NewFirestore(ctx context.Context, projectID, credentialsFile, collection string) (*Firestore, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Firestore{client: client, coll: client.Collection(collection)}, nil
}

func (s *Firestore) Close() error { return s.client.Close() }

func (s *Firestore) Get(ctx context.Context, id string) (*order.Order, error) {
	snap, err := s.coll.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

func (s *Firestore) ListClaimable(ctx context.Context, limit int) ([]*order.Order, error) {
	q := s.coll.Where("status", "==", string(order.StatusUploaded)).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit)
	return s.run(ctx, q)
}

func (s *Firestore) ListClaimableUnordered(ctx context.Context, limit int) ([]*order.Order, error) {
	q := s.coll.Where("status", "==", string(order.StatusUploaded)).Limit(limit)
	return s.run(ctx, q)
}

func (s *Firestore) run(ctx context.Context, q firestore.Query) ([]*order.Order, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	out := make([]*order.Order, 0, len(snaps))
	for _, snap := range snaps {
		o, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// TryClaim reads and writes inside one transaction. Firestore aborts and
// retries the function when a concurrent writer touches the document, so the
// second claimant re-reads the claimed state and gives up.
func (s *Firestore) TryClaim(ctx context.Context, id string, expected, next order.Status, claimant string) (bool, error) {
	ref := s.coll.Doc(id)
	var claimed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		st, _ := snap.Data()["status"].(string)
		if order.Status(st) != expected {
			return nil
		}
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(next)},
			{Path: "worker", Value: map[string]interface{}{
				"claimedAt": firestore.ServerTimestamp,
				"claimedBy": claimant,
			}},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return false, fmt.Errorf("claim order %s: %w", id, err)
	}
	return claimed, nil
}

func (s *Firestore) MarkQuoted(ctx context.Context, id string, r order.Result) error {
	_, err := s.coll.Doc(id).Update(ctx, []firestore.Update{
		{Path: "analysis", Value: r.Analysis},
		{Path: "preview", Value: r.Preview},
		{Path: "quote", Value: r.Quote},
		{Path: "status", Value: string(order.StatusQuoted)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return fmt.Errorf("mark order %s quoted: %w", id, err)
	}
	return nil
}

func (s *Firestore) MarkFailed(ctx context.Context, id string, f order.Failure) error {
	_, err := s.coll.Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(order.StatusError)},
		{Path: "error", Value: f},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return fmt.Errorf("mark order %s failed: %w", id, err)
	}
	return nil
}

// Ping reads a sentinel document to confirm connectivity and credentials.
func (s *Firestore) Ping(ctx context.Context) error {
	_, err := s.coll.Doc("_health").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*order.Order, error) {
	var o order.Order
	if err := snap.DataTo(&o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	o.ID = snap.Ref.ID
	return &o, nil
}
