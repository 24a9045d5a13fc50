// Package host defines the dataset operations the embedding pipeline
// consumes from its host application, with an in-memory implementation.
package host

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownDataset is returned for an id the host does not know.
var ErrUnknownDataset = errors.New("host: unknown dataset")

// DatasetID identifies a dataset within the host.
type DatasetID string

// Datasets is the host's dataset system.
type Datasets interface {
	// CreateDerivedDataset registers a new dataset derived from parent.
	// An empty parent creates a root dataset.
	CreateDerivedDataset(name string, parent DatasetID) (DatasetID, error)
	// SetData replaces the dataset's points with count rows of dims values.
	SetData(id DatasetID, buffer []float32, count, dims int) error
	// NotifyDataChanged tells observers the dataset was updated.
	NotifyDataChanged(id DatasetID) error
	// Selection returns the indices currently selected in the dataset.
	Selection(id DatasetID) ([]uint32, error)
}

// Dataset is a snapshot of one dataset held by Memory.
type Dataset struct {
	ID        DatasetID
	Name      string
	Parent    DatasetID
	Data      []float32
	Count     int
	Dims      int
	Selection []uint32
	// Version counts NotifyDataChanged calls.
	Version int

	seq int
}

// Memory is a goroutine-safe in-memory Datasets.
type Memory struct {
	mu       sync.RWMutex
	next     int
	datasets map[DatasetID]*Dataset
}

// NewMemory creates an empty host.
func NewMemory() *Memory {
	return &Memory{datasets: make(map[DatasetID]*Dataset)}
}

// AddDataset registers a root dataset holding points.
func (m *Memory) AddDataset(name string, points []float32, count, dims int) (DatasetID, error) {
	id, err := m.CreateDerivedDataset(name, "")
	if err != nil {
		return "", err
	}
	return id, m.SetData(id, points, count, dims)
}

func (m *Memory) CreateDerivedDataset(name string, parent DatasetID) (DatasetID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parent != "" {
		if _, ok := m.datasets[parent]; !ok {
			return "", fmt.Errorf("%w: parent %q", ErrUnknownDataset, parent)
		}
	}

	m.next++
	id := DatasetID(fmt.Sprintf("ds-%d", m.next))
	m.datasets[id] = &Dataset{ID: id, Name: name, Parent: parent, seq: m.next}
	return id, nil
}

func (m *Memory) SetData(id DatasetID, buffer []float32, count, dims int) error {
	if count*dims != len(buffer) {
		return fmt.Errorf("host: buffer of %d values does not hold %d×%d", len(buffer), count, dims)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, id)
	}
	ds.Data = slices.Clone(buffer)
	ds.Count = count
	ds.Dims = dims
	return nil
}

func (m *Memory) NotifyDataChanged(id DatasetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, id)
	}
	ds.Version++
	return nil
}

func (m *Memory) Selection(id DatasetID) ([]uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, id)
	}
	return slices.Clone(ds.Selection), nil
}

// SetSelection replaces the dataset's selection.
func (m *Memory) SetSelection(id DatasetID, indices []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, id)
	}
	ds.Selection = slices.Clone(indices)
	return nil
}

// Dataset returns a copy of the dataset.
func (m *Memory) Dataset(id DatasetID) (Dataset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	out := *ds
	out.Data = slices.Clone(ds.Data)
	out.Selection = slices.Clone(ds.Selection)
	return out, true
}

// Children returns the ids derived from parent, in creation order.
func (m *Memory) Children(parent DatasetID) []DatasetID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DatasetID
	for id, ds := range m.datasets {
		if ds.Parent == parent {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b DatasetID) int {
		return m.datasets[a].seq - m.datasets[b].seq
	})
	return out
}
