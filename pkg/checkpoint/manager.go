package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/persist"
)

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

// File names inside a checkpoint directory.
const (
	metadataFile = "checkpoint.json"
	// The state is a CBOR shard container. Its suffix keeps it out of
	// shard directory walks.
	stateFile = "state.ckpt"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Sentinel errors for checkpoint validation.
var (
	ErrVersionMismatch   = errors.New("checkpoint: unsupported metadata version")
	ErrPrecisionMismatch = errors.New("checkpoint: precision mismatch")
)

// Manager stores one checkpoint in a directory.
type Manager struct {
	fs  afero.Fs
	dir string
}

// NewManager creates a manager for the checkpoint kept in dir.
func NewManager(afs afero.Fs, dir string) *Manager {
	return &Manager{fs: afs, dir: dir}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.dir, metadataFile)
}

func (m *Manager) statePath() string {
	return filepath.Join(m.dir, stateFile)
}

// Exists returns true if a checkpoint has been saved.
func (m *Manager) Exists() bool {
	ok, err := afero.Exists(m.fs, m.MetadataPath())

	return err == nil && ok
}

// Clear removes the checkpoint files. Other files in the directory are left
// alone; the directory itself is removed only when nothing else is in it.
// Clearing a missing checkpoint is not an error.
func (m *Manager) Clear() error {
	for _, path := range []string{m.MetadataPath(), m.statePath()} {
		err := m.fs.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove checkpoint: %w", err)
		}
	}

	exists, err := afero.DirExists(m.fs, m.dir)
	if err != nil || !exists {
		return err
	}

	empty, err := afero.IsEmpty(m.fs, m.dir)
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	if !empty {
		return nil
	}

	err = m.fs.Remove(m.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Save writes the union accumulated by agg together with the IDs of the
// shards it contains. The state file is written before the metadata. A crash
// between the two writes leaves a newer union next to an older shard list;
// resuming from it merges some shards a second time, which does not change
// the union.
func (m *Manager) Save(agg *magnitude.Aggregator) error {
	err := m.fs.MkdirAll(m.dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	ds := agg.Dataset()

	state, err := ds.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}

	err = afero.WriteFile(m.fs, m.statePath(), state, filePerm)
	if err != nil {
		return fmt.Errorf("write checkpoint state: %w", err)
	}

	meta := Metadata{
		Version:   MetadataVersion,
		Precision: agg.Precision(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Domains:   len(ds.Domains),
		Shards:    agg.MergedShards(),
	}

	f, err := m.fs.OpenFile(m.MetadataPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	err = persist.NewJSONCodec().Encode(f, meta)
	if err != nil {
		f.Close()

		return fmt.Errorf("write metadata: %w", err)
	}

	return f.Close()
}

// LoadMetadata loads the checkpoint metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	f, err := m.fs.Open(m.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	defer f.Close()

	var meta Metadata

	err = persist.NewJSONCodec().Decode(f, &meta)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	if meta.Version != MetadataVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, meta.Version)
	}

	return &meta, nil
}

// Load restores the saved union into a fresh aggregator of the given
// precision. A checkpoint taken at another precision is rejected with
// ErrPrecisionMismatch.
func (m *Manager) Load(precision uint8) (*magnitude.Aggregator, error) {
	meta, err := m.LoadMetadata()
	if err != nil {
		return nil, err
	}

	if meta.Precision != precision {
		return nil, fmt.Errorf("%w: checkpoint has %d, want %d", ErrPrecisionMismatch, meta.Precision, precision)
	}

	state, err := afero.ReadFile(m.fs, m.statePath())
	if err != nil {
		return nil, fmt.Errorf("read checkpoint state: %w", err)
	}

	ds, err := dataset.Decode(state)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}

	agg, err := magnitude.NewAggregator(precision)
	if err != nil {
		return nil, err
	}

	err = agg.Restore(ds, meta.Shards)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}

	return agg, nil
}
