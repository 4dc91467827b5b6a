package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gofrs/flock"

	"github.com/rowanlane/convoy/internal/errors"
)

// FleetFileName is the fleet checkpoint file under the progress dir.
const FleetFileName = "fleet.json"

// ItemStatus is the coarse per-item status tracked at fleet level.
type ItemStatus string

const (
	StatusNotStarted     ItemStatus = "not-started"
	StatusInProgress     ItemStatus = "in-progress"
	StatusCompleted      ItemStatus = "completed"
	StatusFailed         ItemStatus = "failed"
	StatusBlocked        ItemStatus = "blocked"
	StatusBudgetExceeded ItemStatus = "budget-exceeded"

	// StatusCodeComplete marks an item whose implementation finished and
	// verified but whose pull request could not be composed.
	StatusCodeComplete ItemStatus = "code-complete"

	// Dependency propagation statuses for DAG runs. An item is marked with
	// one of these without ever running when an upstream item fails.
	StatusDepFailed        ItemStatus = "dep-failed"
	StatusDepBlocked       ItemStatus = "dep-blocked"
	StatusDepMergeConflict ItemStatus = "dep-merge-conflict"
	StatusDepBuildBroken   ItemStatus = "dep-build-broken"
)

// IsTerminal reports whether the status is a final outcome.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case StatusNotStarted, StatusInProgress:
		return false
	}
	return true
}

// IsDependencyFailure reports whether the status was propagated from an
// upstream item rather than earned by the item's own pipeline.
func (s ItemStatus) IsDependencyFailure() bool {
	switch s {
	case StatusDepFailed, StatusDepBlocked, StatusDepMergeConflict, StatusDepBuildBroken:
		return true
	}
	return false
}

// ItemRecord is the fleet's summary view of one work item.
type ItemRecord struct {
	ItemID     string     `json:"item_id"`
	Title      string     `json:"title,omitempty"`
	Status     ItemStatus `json:"status"`
	Wave       int        `json:"wave,omitempty"`
	Tokens     int64      `json:"tokens"`
	PRURL      string     `json:"pr_url,omitempty"`
	Branch     string     `json:"branch,omitempty"`
	FailReason string     `json:"fail_reason,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FleetCheckpoint is the run-level record: which items exist, their
// coarse statuses, and aggregate token usage. Like per-item checkpoints
// it is written atomically and survives process death.
type FleetCheckpoint struct {
	Version     string                `json:"version"`
	RunID       string                `json:"run_id"`
	Items       map[string]ItemRecord `json:"items"`
	ItemOrder   []string              `json:"item_order"`
	TotalTokens int64                 `json:"total_tokens"`
	ResumeCount int                   `json:"resume_count"`
	StartedAt   time.Time             `json:"started_at"`
	UpdatedAt   time.Time             `json:"updated_at"`

	dir string
}

// NewFleetCheckpoint creates a fresh fleet record rooted at dir.
func NewFleetCheckpoint(dir, runID string) *FleetCheckpoint {
	return &FleetCheckpoint{
		Version:   "1",
		RunID:     runID,
		Items:     make(map[string]ItemRecord),
		StartedAt: time.Now(),
		dir:       dir,
	}
}

// LoadFleetCheckpoint reads the fleet record from dir. Returns
// (nil, nil) when no record exists. A corrupt record is an error rather
// than a silent reset since it would orphan item checkpoints.
func LoadFleetCheckpoint(dir string) (*FleetCheckpoint, error) {
	path := filepath.Join(dir, FleetFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewCheckpointError("failed to read fleet checkpoint", err).WithPath(path)
	}

	var fc FleetCheckpoint
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrap(errors.ErrCheckpointCorrupted, path)
	}
	if fc.Items == nil {
		fc.Items = make(map[string]ItemRecord)
	}
	fc.ResumeCount++
	fc.dir = dir
	return &fc, nil
}

// Save writes the fleet record atomically under the store lock.
func (fc *FleetCheckpoint) Save() error {
	fc.UpdatedAt = time.Now()

	fl := flock.New(filepath.Join(fc.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return errors.NewCheckpointError("failed to acquire checkpoint lock", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return errors.NewCheckpointError("failed to marshal fleet checkpoint", err)
	}

	target := filepath.Join(fc.dir, FleetFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewCheckpointError("failed to write temp fleet checkpoint", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.NewCheckpointError("failed to rename fleet checkpoint into place", err).WithPath(target)
	}
	return nil
}

// RegisterItem adds an item in the not-started state. Re-registering an
// existing item (on resume) preserves its current record.
func (fc *FleetCheckpoint) RegisterItem(itemID, title string, wave int) {
	if rec, ok := fc.Items[itemID]; ok {
		rec.Title = title
		rec.Wave = wave
		fc.Items[itemID] = rec
		return
	}
	fc.Items[itemID] = ItemRecord{
		ItemID:    itemID,
		Title:     title,
		Status:    StatusNotStarted,
		Wave:      wave,
		UpdatedAt: time.Now(),
	}
	fc.ItemOrder = append(fc.ItemOrder, itemID)
}

// SetItemStatus updates an item's coarse status.
func (fc *FleetCheckpoint) SetItemStatus(itemID string, status ItemStatus, failReason string) error {
	rec, ok := fc.Items[itemID]
	if !ok {
		return errors.NewNotFoundError("item", itemID)
	}
	rec.Status = status
	rec.FailReason = failReason
	rec.UpdatedAt = time.Now()
	fc.Items[itemID] = rec
	return nil
}

// SetItemResult records the outputs of a terminal item.
func (fc *FleetCheckpoint) SetItemResult(itemID, prURL, branch string, tokens int64) error {
	rec, ok := fc.Items[itemID]
	if !ok {
		return errors.NewNotFoundError("item", itemID)
	}
	fc.TotalTokens += tokens - rec.Tokens
	rec.PRURL = prURL
	rec.Branch = branch
	rec.Tokens = tokens
	rec.UpdatedAt = time.Now()
	fc.Items[itemID] = rec
	return nil
}

// ItemStatusOf returns an item's status, StatusNotStarted when unknown.
func (fc *FleetCheckpoint) ItemStatusOf(itemID string) ItemStatus {
	if rec, ok := fc.Items[itemID]; ok {
		return rec.Status
	}
	return StatusNotStarted
}

// ItemsByStatus returns item IDs in registration order matching any of
// the given statuses.
func (fc *FleetCheckpoint) ItemsByStatus(statuses ...ItemStatus) []string {
	var out []string
	for _, id := range fc.ItemOrder {
		if slices.Contains(statuses, fc.Items[id].Status) {
			out = append(out, id)
		}
	}
	return out
}

// AllTerminal reports whether every registered item reached a terminal
// status.
func (fc *FleetCheckpoint) AllTerminal() bool {
	for _, rec := range fc.Items {
		if !rec.Status.IsTerminal() {
			return false
		}
	}
	return true
}
