package keystore

import (
	"sync"

	"shdc/pkg/shdccrypto"
)

// Persister is the external collaborator spec.md §6 names for persistent
// key storage: confidentiality of the stored material (file permissions,
// encryption at rest) is entirely its responsibility, not this package's.
type Persister interface {
	LoadIdentity() (shdccrypto.Identity, bool, error)
	SaveIdentity(shdccrypto.Identity) error
	ListPeers() ([]SensorRecord, error)
	PutPeer(SensorRecord) error
}

// MemoryPersister is a reference Persister backed by process memory only.
// It is what the test suite and examples use; a real deployment supplies a
// file-backed Persister instead (explicitly out of this repository's scope,
// per spec.md §1).
type MemoryPersister struct {
	mu       sync.Mutex
	identity *shdccrypto.Identity
	peers    map[uint32]SensorRecord
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{peers: make(map[uint32]SensorRecord)}
}

func (m *MemoryPersister) LoadIdentity() (shdccrypto.Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return shdccrypto.Identity{}, false, nil
	}
	return *m.identity, true, nil
}

func (m *MemoryPersister) SaveIdentity(id shdccrypto.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = &id
	return nil
}

func (m *MemoryPersister) ListPeers() ([]SensorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SensorRecord, 0, len(m.peers))
	for _, r := range m.peers {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryPersister) PutPeer(rec SensorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[rec.DeviceID] = rec
	return nil
}

// LoadOrCreateIdentity loads an identity from p, generating and persisting
// a fresh one if none exists yet. cmd/shdc-hub and cmd/shdc-sensor call it at
// startup to build the Keystore that NewHub and NewSensor then receive.
func LoadOrCreateIdentity(p Persister) (shdccrypto.Identity, error) {
	id, ok, err := p.LoadIdentity()
	if err != nil {
		return shdccrypto.Identity{}, err
	}
	if ok {
		return id, nil
	}
	id, err = shdccrypto.GenerateIdentity()
	if err != nil {
		return shdccrypto.Identity{}, ErrIdentityMissing
	}
	if err := p.SaveIdentity(id); err != nil {
		return shdccrypto.Identity{}, err
	}
	return id, nil
}
