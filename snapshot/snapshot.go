// Package snapshot serializes captured VM state for savegames.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/nethervm/nethervm/vm"
)

// FormatVersion is written into every snapshot and checked on decode.
const FormatVersion byte = 1

var (
	ErrFormat  = errors.New("snapshot: unsupported format version")
	ErrCorrupt = errors.New("snapshot: corrupt snapshot")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is a vm.State with an identity and the name of the program it
// was taken from.
type Snapshot struct {
	Version   byte     `cbor:"1,keyasint"`
	ID        string   `cbor:"2,keyasint"`
	Program   string   `cbor:"3,keyasint"`
	Created   int64    `cbor:"4,keyasint"` // unix nanoseconds
	Hash      [32]byte `cbor:"5,keyasint"`
	Globals   []uint32 `cbor:"6,keyasint"`
	Edicts    []byte   `cbor:"7,keyasint,omitempty"`
	NumEdicts int      `cbor:"8,keyasint"`
	MaxEdicts int      `cbor:"9,keyasint"`
	Reserved  int      `cbor:"10,keyasint"`
	Time      float32  `cbor:"11,keyasint"`
	Known     []string `cbor:"12,keyasint"`
}

// New wraps st under a fresh ID.
func New(program string, st *vm.State) *Snapshot {
	return &Snapshot{
		Version:   FormatVersion,
		ID:        uuid.New().String(),
		Program:   program,
		Created:   time.Now().UnixNano(),
		Hash:      st.Program,
		Globals:   st.Globals,
		Edicts:    st.Edicts,
		NumEdicts: st.NumEdicts,
		MaxEdicts: st.MaxEdicts,
		Reserved:  st.Reserved,
		Time:      st.Time,
		Known:     st.Known,
	}
}

// Capture takes a snapshot of m.
func Capture(m *vm.VM) (*Snapshot, error) {
	st, err := m.CaptureState()
	if err != nil {
		return nil, err
	}
	return New(m.Name(), st), nil
}

// State converts the snapshot back into a vm.State.
func (s *Snapshot) State() *vm.State {
	return &vm.State{
		Program:   s.Hash,
		Globals:   s.Globals,
		Edicts:    s.Edicts,
		NumEdicts: s.NumEdicts,
		MaxEdicts: s.MaxEdicts,
		Reserved:  s.Reserved,
		Time:      s.Time,
		Known:     s.Known,
	}
}

// Restore puts the snapshot's state back into m.
func (s *Snapshot) Restore(m *vm.VM) error {
	return m.RestoreState(s.State())
}

// CreatedAt is the capture time.
func (s *Snapshot) CreatedAt() time.Time {
	return time.Unix(0, s.Created)
}

// Marshal serializes a Snapshot to canonical CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrFormat, s.Version)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		return nil, fmt.Errorf("%w: id %q: %w", ErrCorrupt, s.ID, err)
	}
	return &s, nil
}
