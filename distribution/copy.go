package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/storage-distribution/interfaces"
)

// CopyObjectFromOfferToOffer replaces the destination's copy of an object
// with the copy held by the source offer. The source copy is re-read on every
// attempt and must still match the digest recorded when it was written.
func (d *Distribution) CopyObjectFromOfferToOffer(ctx context.Context, strategyID string, dc interfaces.DataContext, sourceOfferID, destinationOfferID string) (*interfaces.StoredInfoResult, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	if sourceOfferID == destinationOfferID {
		return nil, fmt.Errorf("%w: source and destination offer are both %s", interfaces.ErrIllegalArgument, sourceOfferID)
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if _, err := targetOffers(strategy, []string{sourceOfferID, destinationOfferID}); err != nil {
		return nil, err
	}

	ref := dc.Ref()
	var md *interfaces.ObjectMetadata
	err = d.withConnection(ctx, sourceOfferID, func(conn interfaces.OfferConnection) error {
		md, err = conn.GetMetadata(ctx, ref, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("source offer %s: %w", sourceOfferID, err)
	}

	// A stale destination copy would be taken for a conflict by
	// reject-if-exists categories.
	err = d.withConnection(ctx, destinationOfferID, func(conn interfaces.OfferConnection) error {
		_, err := conn.RemoveObject(ctx, ref)
		return err
	})
	if err != nil && !errors.Is(err, interfaces.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: clearing destination offer %s: %w", interfaces.ErrTechnical, destinationOfferID, err)
	}

	source := func(ctx context.Context) (*interfaces.StreamAndInfo, error) {
		res, err := d.readFrom(ctx, sourceOfferID, ref)
		if err != nil {
			return nil, err
		}
		return &interfaces.StreamAndInfo{Stream: res.Body, Size: res.Size}, nil
	}

	op := storeOp{
		strategy:    strategy,
		dc:          dc,
		offerIDs:    []string{destinationOfferID},
		source:      source,
		event:       EventCopy,
		description: sourceOfferID,
	}
	if md.DigestType == d.cfg.DigestType {
		op.expectedDigest = md.Digest
	}
	return d.storeInOffers(ctx, op)
}
