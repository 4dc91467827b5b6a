package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/logging"
)

const (
	itemsDirName = "items"
	lockFileName = "checkpoint.lock"
)

// Store persists per-item checkpoints under {dir}/items/{id}.json.
//
// Every mutator persists atomically before returning: state is marshaled
// to a temporary file and renamed into place, so a kill between calls
// never tears a checkpoint. A flock-based lock file guards against a
// second convoy process sharing the progress directory. Within one
// process each item is owned by exactly one pipeline; the store mutex
// only guards the shared cache map across concurrent item pipelines.
type Store struct {
	dir    string
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]*State
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(filepath.Join(dir, itemsDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*State),
	}, nil
}

// Dir returns the store's root directory.
func (st *Store) Dir() string { return st.dir }

func (st *Store) itemPath(itemID string) string {
	return filepath.Join(st.dir, itemsDirName, itemID+".json")
}

// Load returns the checkpoint for an item, reading it from disk on first
// access. A missing file yields a fresh state. A corrupt file is treated
// as no prior state: it logs a warning and starts fresh, favoring forward
// progress over strict resume correctness. Loading an existing checkpoint
// increments its resume counter.
func (st *Store) Load(itemID string) (*State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.cache[itemID]; ok {
		return s, nil
	}

	path := st.itemPath(itemID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s := newState(itemID)
			st.cache[itemID] = s
			return s, nil
		}
		return nil, errors.NewCheckpointError("failed to read checkpoint", err).
			WithItemID(itemID).WithPath(path)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		st.logger.Warn("checkpoint file corrupt, starting fresh",
			"item_id", itemID, "path", path, "error", err)
		fresh := newState(itemID)
		st.cache[itemID] = fresh
		return fresh, nil
	}

	if s.PhaseOutputs == nil {
		s.PhaseOutputs = make(map[int]string)
	}
	if s.GateResults == nil {
		s.GateResults = make(map[int]GateRecord)
	}
	s.ResumeCount++
	st.cache[itemID] = &s

	if err := st.persist(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetState returns the cached state for an item, or nil if never loaded.
func (st *Store) GetState(itemID string) *State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cache[itemID]
}

// persist writes the state atomically under the store lock.
func (st *Store) persist(s *State) error {
	fl := flock.New(filepath.Join(st.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return errors.NewCheckpointError("failed to acquire checkpoint lock", err).
			WithItemID(s.ItemID)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.NewCheckpointError("failed to marshal checkpoint", err).
			WithItemID(s.ItemID)
	}

	target := st.itemPath(s.ItemID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewCheckpointError("failed to write temp checkpoint", err).
			WithItemID(s.ItemID).WithPath(tmp)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return errors.NewCheckpointError("failed to rename checkpoint into place", err).
			WithItemID(s.ItemID).WithPath(target)
	}
	return nil
}

// mutate loads the item, applies fn, and persists on success.
func (st *Store) mutate(itemID string, fn func(*State) error) error {
	s, err := st.Load(itemID)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return st.persist(s)
}

// StartPhase records a phase starting and persists.
func (st *Store) StartPhase(itemID string, phase int) error {
	return st.mutate(itemID, func(s *State) error { return s.StartPhase(phase) })
}

// CompletePhase records a phase completion and persists.
func (st *Store) CompletePhase(itemID string, phase int, outputPath string) error {
	return st.mutate(itemID, func(s *State) error { return s.CompletePhase(phase, outputPath) })
}

// StartTask records a task starting and persists.
func (st *Store) StartTask(itemID, taskID string) error {
	return st.mutate(itemID, func(s *State) error { return s.StartTask(taskID) })
}

// CompleteTask records a task completion and persists.
func (st *Store) CompleteTask(itemID, taskID string) error {
	return st.mutate(itemID, func(s *State) error { return s.CompleteTask(taskID) })
}

// BlockTask records a task as terminally failed and persists.
func (st *Store) BlockTask(itemID, taskID string) error {
	return st.mutate(itemID, func(s *State) error { return s.BlockTask(taskID) })
}

// RecordTokenUsage appends a metering record and persists.
func (st *Store) RecordTokenUsage(itemID string, rec TokenRecord) error {
	return st.mutate(itemID, func(s *State) error {
		s.RecordTokenUsage(rec)
		return nil
	})
}

// RecordGateResult stores a gate outcome and persists.
func (st *Store) RecordGateResult(itemID string, phase int, rec GateRecord) error {
	return st.mutate(itemID, func(s *State) error { return s.RecordGateResult(phase, rec) })
}

// SetWorktreeInfo records the item's workspace and persists.
func (st *Store) SetWorktreeInfo(itemID string, info WorktreeInfo) error {
	return st.mutate(itemID, func(s *State) error {
		s.SetWorktreeInfo(info)
		return nil
	})
}

// GetResumePoint returns the item's resume point.
func (st *Store) GetResumePoint(itemID string) (ResumePoint, error) {
	s, err := st.Load(itemID)
	if err != nil {
		return ResumePoint{}, err
	}
	return s.GetResumePoint(), nil
}

// IsPhaseCompleted reports whether the item completed the phase.
func (st *Store) IsPhaseCompleted(itemID string, phase int) (bool, error) {
	s, err := st.Load(itemID)
	if err != nil {
		return false, err
	}
	return s.IsPhaseCompleted(phase), nil
}

// IsTaskCompleted reports whether the item completed the task.
func (st *Store) IsTaskCompleted(itemID, taskID string) (bool, error) {
	s, err := st.Load(itemID)
	if err != nil {
		return false, err
	}
	return s.IsTaskCompleted(taskID), nil
}
