package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/storage-distribution/interfaces"
)

// Event types recorded in the storage logbook.
const (
	EventStore  = "STORAGE_STORE"
	EventDelete = "STORAGE_DELETE"
	EventCopy   = "STORAGE_COPY"
)

// auditRecord accumulates the attempt trail of one operation and is
// appended to the sink exactly once.
type auditRecord struct {
	params   interfaces.StorageLogbookParameters
	appended bool
}

func newAuditRecord(eventType string, dc interfaces.DataContext) *auditRecord {
	return &auditRecord{params: interfaces.StorageLogbookParameters{
		EventType: eventType,
		Tenant:    dc.Tenant,
		ObjectID:  dc.ObjectID,
		Category:  dc.Category,
		Requester: dc.Requester,
	}}
}

func (a *auditRecord) attempt(offerID string, attempt int, ok bool) {
	outcome := interfaces.OutcomeKO
	if ok {
		outcome = interfaces.OutcomeOK
	}
	a.params.Agents = append(a.params.Agents, fmt.Sprintf("%s attempt %d : %s", offerID, attempt, outcome))
}

func (a *auditRecord) deletion(offerID string, outcome interfaces.DeleteOutcome) {
	a.params.Agents = append(a.params.Agents, fmt.Sprintf("%s : %s", offerID, outcome))
}

// appendAudit finalizes the record and appends it once. A failing sink is logged and
// does not change the outcome of the operation.
func (d *Distribution) appendAudit(ctx context.Context, a *auditRecord, outcome interfaces.LogbookOutcome, detail string) {
	if a.appended {
		return
	}
	a.appended = true
	a.params.Outcome = outcome
	a.params.OutcomeDetail = detail
	a.params.EventDateTime = time.Now().UTC()

	record := a.params
	record.Agents = append([]string(nil), a.params.Agents...)
	if d.audit == nil {
		return
	}
	if err := d.audit.Append(context.WithoutCancel(ctx), &record); err != nil {
		d.log.Error("Failed to append storage logbook record",
			"err", err,
			slog.String("event", record.EventType),
			slog.String("object", record.ObjectID),
			slog.String("outcome", string(outcome)))
	}
}
