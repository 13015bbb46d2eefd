package distribution

import "net/http"

// offersToCopyIn tracks which offers of a store operation hold a verified
// copy. Every offer is in exactly one of the OK and KO sets; koToOk is the
// only transition. It is owned by the coordinator goroutine.
type offersToCopyIn struct {
	order  []string
	ok     map[string]bool
	status map[string]int
}

func newOffersToCopyIn(offerIDs []string) *offersToCopyIn {
	t := &offersToCopyIn{
		order:  append([]string(nil), offerIDs...),
		ok:     make(map[string]bool, len(offerIDs)),
		status: make(map[string]int, len(offerIDs)),
	}
	for _, id := range offerIDs {
		t.status[id] = http.StatusInternalServerError
	}
	return t
}

// koOffers returns the offers still missing a verified copy, in strategy order.
func (t *offersToCopyIn) koOffers() []string {
	var out []string
	for _, id := range t.order {
		if !t.ok[id] {
			out = append(out, id)
		}
	}
	return out
}

// okOffers returns the offers holding a verified copy, in strategy order.
func (t *offersToCopyIn) okOffers() []string {
	var out []string
	for _, id := range t.order {
		if t.ok[id] {
			out = append(out, id)
		}
	}
	return out
}

func (t *offersToCopyIn) koToOk(offerID string) {
	if _, known := t.status[offerID]; !known {
		return
	}
	t.ok[offerID] = true
	t.status[offerID] = http.StatusCreated
}

func (t *offersToCopyIn) setStatus(offerID string, status int) {
	if _, known := t.status[offerID]; !known || t.ok[offerID] {
		return
	}
	t.status[offerID] = status
}

// hasStatus reports whether any KO offer ended with status.
func (t *offersToCopyIn) hasStatus(status int) bool {
	for _, id := range t.koOffers() {
		if t.status[id] == status {
			return true
		}
	}
	return false
}

func (t *offersToCopyIn) statuses() map[string]int {
	out := make(map[string]int, len(t.status))
	for id, s := range t.status {
		out[id] = s
	}
	return out
}
