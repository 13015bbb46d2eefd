package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

// taskResult is what a transfer task reports to the coordinator.
type taskResult struct {
	offerID  string
	status   int
	objectID string
	put      *interfaces.PutObjectResult
	digest   string
	err      error
}

func (r taskResult) succeeded() bool {
	return r.err == nil && r.status == http.StatusCreated && r.put != nil
}

// statusFor maps a task error to the per-offer status recorded by the tracker.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrObjectAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// stopsRetries reports whether err must end the retry loop. The failing
// offer stays KO.
func stopsRetries(err error) bool {
	return errors.Is(err, interfaces.ErrObjectAlreadyExists) ||
		errors.Is(err, interfaces.ErrPreconditionFailed) ||
		errors.Is(err, interfaces.ErrInconsistentState) ||
		errors.Is(err, interfaces.ErrDoNotRetry)
}

// transferTask writes one fan-out reader to one offer and verifies the copy
// against the digest of the whole source.
type transferTask struct {
	connector      interfaces.OfferConnector
	offerID        string
	ref            interfaces.ObjectRef
	digestType     cryptoutils.DigestType
	size           int64
	body           io.ReadCloser
	digest         func(context.Context) (string, error)
	cleanupTimeout time.Duration
	log            *slog.Logger
}

func (t *transferTask) run(ctx context.Context) taskResult {
	// Drivers may block in Read regardless of ctx; closing the reader
	// unblocks them.
	defer t.body.Close()
	stop := context.AfterFunc(ctx, func() { t.body.Close() })
	defer stop()

	conn, err := t.connector.Connect(ctx, t.offerID)
	if err != nil {
		return t.failed(err)
	}
	defer conn.Close()

	policy, err := t.ref.Category.Policy()
	if err != nil {
		return t.failed(fmt.Errorf("%w: %w", interfaces.ErrPreconditionFailed, err))
	}
	if policy.Rewrite == interfaces.RejectIfExists {
		exists, err := conn.ObjectExists(ctx, t.ref)
		if err != nil {
			return t.failed(err)
		}
		if exists {
			return t.failed(fmt.Errorf("%w: %s on offer %s", interfaces.ErrObjectAlreadyExists, t.ref, t.offerID))
		}
	}
	if err := ctx.Err(); err != nil {
		return t.failed(err)
	}

	put, err := conn.PutObject(ctx, interfaces.PutObjectRequest{
		Ref:        t.ref,
		DigestType: t.digestType,
		Size:       t.size,
		Body:       t.body,
	})
	if err != nil {
		return t.failed(err)
	}

	expected, err := t.digest(ctx)
	if err != nil {
		t.removeCopy(ctx, conn)
		return t.failed(err)
	}
	if put.Digest != "" && !cryptoutils.EqualDigests(put.Digest, expected) {
		t.removeCopy(ctx, conn)
		return t.failed(fmt.Errorf("%w: offer %s received %s, source is %s", interfaces.ErrDigestMismatch, t.offerID, put.Digest, expected))
	}
	ok, err := conn.CheckObjectDigest(ctx, t.ref, t.digestType, expected)
	if err != nil {
		t.removeCopy(ctx, conn)
		return t.failed(err)
	}
	if !ok {
		t.removeCopy(ctx, conn)
		return t.failed(fmt.Errorf("%w: offer %s holds a copy of %s that does not match %s", interfaces.ErrDigestMismatch, t.offerID, t.ref, expected))
	}

	return taskResult{
		offerID:  t.offerID,
		status:   http.StatusCreated,
		objectID: t.ref.ObjectID,
		put:      put,
		digest:   expected,
	}
}

func (t *transferTask) failed(err error) taskResult {
	return taskResult{
		offerID:  t.offerID,
		status:   statusFor(err),
		objectID: t.ref.ObjectID,
		err:      err,
	}
}

// removeCopy drops an unverified copy so a later attempt does not see it as
// a conflict. Best effort; it outlives ctx cancellation.
func (t *transferTask) removeCopy(ctx context.Context, conn interfaces.OfferConnection) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cleanupTimeout)
	defer cancel()
	if _, err := conn.RemoveObject(cleanupCtx, t.ref); err != nil && !errors.Is(err, interfaces.ErrObjectNotFound) {
		t.log.Warn("Failed to remove unverified copy",
			"err", err,
			slog.String("offer", t.offerID),
			slog.String("object", t.ref.String()))
	}
}

// deleteResult is what a delete task reports.
type deleteResult struct {
	offerID string
	outcome interfaces.DeleteOutcome
	err     error
}

type deleteTask struct {
	connector interfaces.OfferConnector
	offerID   string
	ref       interfaces.ObjectRef
}

func (t *deleteTask) run(ctx context.Context) deleteResult {
	conn, err := t.connector.Connect(ctx, t.offerID)
	if err != nil {
		return deleteResult{offerID: t.offerID, outcome: interfaces.DeleteKO, err: err}
	}
	defer conn.Close()

	_, err = conn.RemoveObject(ctx, t.ref)
	switch {
	case err == nil:
		return deleteResult{offerID: t.offerID, outcome: interfaces.DeleteOK}
	case errors.Is(err, interfaces.ErrObjectNotFound):
		return deleteResult{offerID: t.offerID, outcome: interfaces.DeleteAlreadyGone}
	default:
		return deleteResult{offerID: t.offerID, outcome: interfaces.DeleteKO, err: err}
	}
}

type readOrderMode int

const (
	readOrderCreate readOrderMode = iota
	readOrderCheck
)

// readOrderResult carries 202 Accepted for a created order, 200 OK for a
// complete one and 404 Not Found for one still staging.
type readOrderResult struct {
	offerID string
	orderID string
	status  int
	err     error
}

// readOrderTask creates or polls a read order on an asynchronous offer.
// Creation and polling are separate tasks.
type readOrderTask struct {
	connector interfaces.OfferConnector
	offerID   string
	mode      readOrderMode
	tenant    int
	category  interfaces.DataCategory
	objectIDs []string
	orderID   string
}

func (t *readOrderTask) run(ctx context.Context) readOrderResult {
	res := readOrderResult{offerID: t.offerID, orderID: t.orderID}
	conn, err := t.connector.Connect(ctx, t.offerID)
	if err != nil {
		res.err = err
		return res
	}
	defer conn.Close()

	switch t.mode {
	case readOrderCreate:
		res.orderID, res.err = conn.CreateReadOrder(ctx, t.tenant, t.category, t.objectIDs)
		if res.err == nil {
			res.status = http.StatusAccepted
		}
	case readOrderCheck:
		var done bool
		done, res.err = conn.IsReadOrderComplete(ctx, t.tenant, t.orderID)
		if res.err == nil {
			res.status = http.StatusNotFound
			if done {
				res.status = http.StatusOK
			}
		}
	default:
		res.err = fmt.Errorf("%w: unknown read order mode %d", interfaces.ErrTechnical, t.mode)
	}
	return res
}
