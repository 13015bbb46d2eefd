/*
Package distribution implements the storage distribution engine: it replicates
one object across the offers of a storage strategy and reads, checks, lists and
deletes it there with digest-based integrity guarantees.

# Store

A store operation reads the source once per attempt and fans the stream out
to every offer still missing a verified copy. The digest is computed over the
source bytes before they are broadcast, and every offer's copy is checked
against it after the write. Offers that fail are retried in the next wave up
to Config.MaxAttempts; conflicts, precondition failures and inconsistent
backend states stop retrying. If any offer is still missing a copy at the end,
the copies already written are removed and the operation fails. A store never
returns a partial result.

Each wave has one deadline, derived from the object size:

	timeout = max(MinimumTimeout, size/1024 * MillisecondsPerKB), capped by MaximumTimeout

# Reads

Retrieve walks enabled offers by ascending rank and returns the first copy it
can open. Offers flagged async_read require a completed read order and are
only read when requested explicitly (see CreateReadOrder and CheckReadOrder).

# Pools

Transfer, delete and read-order tasks share one bounded pool; metadata and
capacity queries run on a separate batch pool so that they are never starved
by large transfers.

# Read-only deployments

NewFromConfig wraps the engine in a ReadOnlyShield when Config.ReadOnly is
set. The shield serves reads and rejects every mutating operation with
interfaces.ErrReadOnly, raising a critical alert.

# Audit

Every store, copy and delete appends exactly one record to the audit sink,
carrying the per-offer attempt trail ("<offer> attempt <n> : OK|KO").
*/
package distribution
