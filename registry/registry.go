package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ruteri/storage-distribution/interfaces"
	"gopkg.in/yaml.v3"
)

var ErrInvalidReferential = errors.New("invalid referential")

// OfferDeclaration binds an offer id to its location URI.
type OfferDeclaration struct {
	ID  string `yaml:"id"`
	URI string `yaml:"uri"`
}

// Document is the on-disk form of the referential.
type Document struct {
	Offers     []OfferDeclaration     `yaml:"offers"`
	Strategies []*interfaces.Strategy `yaml:"strategies"`
}

type snapshot struct {
	offers     map[string]string
	strategies map[string]*interfaces.Strategy
}

// Registry serves strategies and offer locations from a validated Document.
type Registry struct {
	mu   sync.RWMutex
	snap *snapshot
}

// New validates doc and builds a registry from it.
func New(doc *Document) (*Registry, error) {
	snap, err := compile(doc)
	if err != nil {
		return nil, err
	}
	return &Registry{snap: snap}, nil
}

// Parse decodes and validates a YAML referential.
func Parse(data []byte) (*Registry, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	return New(doc)
}

// LoadFile reads the referential at path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading referential: %w", err)
	}
	return Parse(data)
}

// Reload replaces the referential with the content of path. On error the
// current referential is kept.
func (r *Registry) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading referential: %w", err)
	}
	doc, err := decode(data)
	if err != nil {
		return err
	}
	snap, err := compile(doc)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}

func decode(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReferential, err)
	}
	return doc, nil
}

func compile(doc *Document) (*snapshot, error) {
	snap := &snapshot{
		offers:     make(map[string]string, len(doc.Offers)),
		strategies: make(map[string]*interfaces.Strategy, len(doc.Strategies)),
	}
	for _, o := range doc.Offers {
		if o.ID == "" {
			return nil, fmt.Errorf("%w: offer with empty id", ErrInvalidReferential)
		}
		if _, dup := snap.offers[o.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate offer %s", ErrInvalidReferential, o.ID)
		}
		if _, err := interfaces.NewOfferLocation(o.URI); err != nil {
			return nil, fmt.Errorf("%w: offer %s: %w", ErrInvalidReferential, o.ID, err)
		}
		snap.offers[o.ID] = o.URI
	}
	for _, s := range doc.Strategies {
		if s == nil {
			continue
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidReferential, err)
		}
		if _, dup := snap.strategies[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate strategy %s", ErrInvalidReferential, s.ID)
		}
		for _, ref := range s.Offers {
			if _, ok := snap.offers[ref.ID]; !ok {
				return nil, fmt.Errorf("%w: strategy %s references undeclared offer %s", ErrInvalidReferential, s.ID, ref.ID)
			}
		}
		snap.strategies[s.ID] = s
	}
	return snap, nil
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// GetStrategy returns ErrStrategyNotFound for unknown ids.
func (r *Registry) GetStrategy(_ context.Context, strategyID string) (*interfaces.Strategy, error) {
	s, ok := r.current().strategies[strategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStrategyNotFound, strategyID)
	}
	return s, nil
}

// OfferLocation returns the location URI of a declared offer.
func (r *Registry) OfferLocation(_ context.Context, offerID string) (string, error) {
	uri, ok := r.current().offers[offerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", interfaces.ErrOfferNotFound, offerID)
	}
	return uri, nil
}

// StrategyIDs returns the declared strategy ids, sorted.
func (r *Registry) StrategyIDs() []string {
	snap := r.current()
	ids := make([]string, 0, len(snap.strategies))
	for id := range snap.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OfferIDs returns the declared offer ids, sorted.
func (r *Registry) OfferIDs() []string {
	snap := r.current()
	ids := make([]string, 0, len(snap.offers))
	for id := range snap.offers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
