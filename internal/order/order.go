// Package order defines the print order record and the store contract the
// worker drives it through.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/quote"
)

// ErrNotFound is returned by Store.Get for unknown ids.
var ErrNotFound = errors.New("order not found")

// Status only moves forward: uploaded → in_progress → quoted | error.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusInProgress Status = "in_progress"
	StatusQuoted     Status = "quoted"
	StatusError      Status = "error"
)

// Terminal reports whether the worker will never touch an order in s again.
func (s Status) Terminal() bool { return s == StatusQuoted || s == StatusError }

// FileRef points at the original upload held by the bridge.
type FileRef struct {
	DriveFileID string `json:"driveFileId,omitempty" firestore:"driveFileId,omitempty"`
	Name        string `json:"name,omitempty" firestore:"name,omitempty"`
	ContentType string `json:"contentType,omitempty" firestore:"contentType,omitempty"`
}

// Claim identifies the worker holding an in_progress order.
type Claim struct {
	ClaimedBy string    `json:"claimedBy" firestore:"claimedBy"`
	ClaimedAt time.Time `json:"claimedAt" firestore:"claimedAt"`
}

// Preview references the uploaded preview document.
type Preview struct {
	Provider    string `json:"provider" firestore:"provider"`
	FileID      string `json:"driveFileId" firestore:"driveFileId"`
	URL         string `json:"url" firestore:"url"`
	ContentType string `json:"contentType" firestore:"contentType"`
}

// Failure is persisted on orders that end in StatusError.
type Failure struct {
	Message string `json:"message" firestore:"message"`
	Trace   string `json:"trace" firestore:"trace"`
}

type Order struct {
	ID        string             `json:"id" firestore:"-"`
	File      *FileRef           `json:"file,omitempty" firestore:"file,omitempty"`
	Options   quote.Options      `json:"options" firestore:"options"`
	Status    Status             `json:"status" firestore:"status"`
	Worker    *Claim             `json:"worker,omitempty" firestore:"worker,omitempty"`
	Analysis  *coverage.Analysis `json:"analysis,omitempty" firestore:"analysis,omitempty"`
	Preview   *Preview           `json:"preview,omitempty" firestore:"preview,omitempty"`
	Quote     *quote.Quote       `json:"quote,omitempty" firestore:"quote,omitempty"`
	Error     *Failure           `json:"error,omitempty" firestore:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" firestore:"updatedAt"`
}

// Result is everything a successful run writes back in one update.
type Result struct {
	Analysis coverage.Analysis
	Preview  Preview
	Quote    quote.Quote
}

// Store is the durable order collection.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	// ListClaimable returns up to limit uploaded orders, oldest first.
	ListClaimable(ctx context.Context, limit int) ([]*Order, error)
	// ListClaimableUnordered is the fallback when the ordered query fails.
	ListClaimableUnordered(ctx context.Context, limit int) ([]*Order, error)
	// TryClaim atomically moves id from expected to next and records the
	// claimant. It returns false, nil when the order is missing or not in
	// expected.
	TryClaim(ctx context.Context, id string, expected, next Status, claimant string) (bool, error)
	MarkQuoted(ctx context.Context, id string, r Result) error
	MarkFailed(ctx context.Context, id string, f Failure) error
}
