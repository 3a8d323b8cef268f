// Package ledger maintains the per-UOW audit chain. Every accepted
// transition appends one history row whose new_content_hash extends a
// SHA-256 chain over the canonical attribute digest; the UOW's content_hash
// column always equals the chain head. Verify replays the chain from the
// empty seed and reports the first broken link.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/attrs"
	"github.com/Mindburn-Labs/windlass/pkg/canonicalize"
	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Entry describes one transition to record.
type Entry struct {
	From      contracts.UOWStatus
	To        contracts.UOWStatus
	ActorID   string
	EventType string
	Reason    string
	Metadata  string // opaque JSON, "" means {}
}

// Append records e against u inside tx and advances u.ContentHash to the
// new chain head. The caller still owns persisting u via UpdateUOW; Append
// only mutates the in-memory row.
func Append(ctx context.Context, tx store.Tx, u *contracts.UOW, e Entry, now time.Time) (*contracts.HistoryRow, error) {
	rows, err := tx.Attributes(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load attributes: %w", err)
	}
	view, err := attrs.HashView(rows)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	digest, err := canonicalize.AttributeDigest(view)
	if err != nil {
		return nil, fmt.Errorf("ledger: digest: %w", err)
	}

	var seq int64 = 1
	last, err := tx.LastHistory(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger: last row: %w", err)
	}
	prev := canonicalize.ChainSeed
	if last != nil {
		seq = last.Seq + 1
		prev = last.NewContentHash
	}

	row := &contracts.HistoryRow{
		UOWID:           u.ID,
		Seq:             seq,
		FromStatus:      e.From,
		ToStatus:        e.To,
		ActorID:         e.ActorID,
		EventType:       e.EventType,
		Reason:          e.Reason,
		PrevContentHash: prev,
		NewContentHash:  canonicalize.ChainHash(prev, digest),
		AttrsDigest:     digest,
		Timestamp:       now.UTC(),
		Metadata:        e.Metadata,
	}
	if err := tx.InsertHistory(ctx, row); err != nil {
		return nil, fmt.Errorf("ledger: insert: %w", err)
	}
	u.ContentHash = row.NewContentHash
	return row, nil
}

// Verify replays rows from the empty seed. head is the UOW's stored
// content_hash; pass "" to skip the head check (e.g. a UOW with no history
// yet). Rows must already be in seq order, as History returns them.
func Verify(rows []*contracts.HistoryRow, head string) error {
	prev := canonicalize.ChainSeed
	for i, r := range rows {
		if r.Seq != int64(i)+1 {
			return fmt.Errorf("row %d: seq %d, want %d", i, r.Seq, i+1)
		}
		if r.PrevContentHash != prev {
			return fmt.Errorf("row seq %d: prev hash does not extend chain head", r.Seq)
		}
		want := canonicalize.ChainHash(prev, r.AttrsDigest)
		if r.NewContentHash != want {
			return fmt.Errorf("row seq %d: hash mismatch", r.Seq)
		}
		prev = r.NewContentHash
	}
	if head != "" && head != prev {
		return fmt.Errorf("content_hash does not match chain head")
	}
	return nil
}

// VerifyUOW loads and verifies the full chain of one UOW.
func VerifyUOW(ctx context.Context, tx store.Tx, uowID string) error {
	u, err := tx.GetUOW(ctx, uowID)
	if err != nil {
		return err
	}
	rows, err := tx.History(ctx, uowID)
	if err != nil {
		return err
	}
	if err := Verify(rows, u.ContentHash); err != nil {
		return fmt.Errorf("uow %s: %w", uowID, err)
	}
	return nil
}
