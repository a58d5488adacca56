package keys

import (
	"context"
	"sync"
)

// MemoryPersistence keeps the key set in process memory. Used by tests and
// as a stand-in where durability doesn't matter.
type MemoryPersistence struct {
	mu    sync.Mutex
	set   []KeyRecord
	saved bool

	// FailNextSave, when set, makes the next Save return an error. Lets
	// tests exercise the all-or-nothing rotation guarantee.
	FailNextSave error
}

func NewMemoryPersistence() *MemoryPersistence { return &MemoryPersistence{} }

func (p *MemoryPersistence) Save(ctx context.Context, set []KeyRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNextSave != nil {
		err := p.FailNextSave
		p.FailNextSave = nil
		return err
	}
	p.set = append(p.set[:0], set...)
	p.saved = true
	return nil
}

func (p *MemoryPersistence) Load(ctx context.Context) ([]KeyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.saved {
		return nil, ErrNotFound
	}
	return append([]KeyRecord(nil), p.set...), nil
}
