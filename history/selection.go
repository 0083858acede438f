// Race-safe fetch-on-select state machine.
//
// The controller tracks one or two selection slots. Each slot targets a
// version id or the live manifest and moves through unselected -> pending
// -> ready/failed. Selecting always bumps a per-slot generation counter;
// a fetch completion is applied only when the slot's generation and target
// still match the ones the fetch was issued for. There is no true
// cancellation of an in-flight store call; stale completions are simply
// discarded, which guarantees the most recently issued selection wins
// regardless of response arrival order.
//
// Discarding a stale result is not an error and is logged at debug level
// only.

package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Slot names one independent selection target.
type Slot int

const (
	SlotA Slot = iota
	SlotB

	slotCount
)

// SelectionPhase is the lifecycle phase of one slot.
type SelectionPhase string

const (
	SelectionUnselected SelectionPhase = "unselected"
	SelectionPending    SelectionPhase = "pending"
	SelectionReady      SelectionPhase = "ready"
	SelectionFailed     SelectionPhase = "failed"
)

// selectionTarget identifies what a slot points at: a version id, or the
// live manifest when Live is set.
type selectionTarget struct {
	VersionID int64
	Live      bool
}

// SelectionState is a snapshot of one slot.
type SelectionState struct {
	Phase      SelectionPhase
	VersionID  int64
	Live       bool
	Generation uint64
	Manifest   *Manifest
	Err        error
}

type slotState struct {
	phase      SelectionPhase
	target     selectionTarget
	generation uint64
	manifest   *Manifest
	err        error
}

// SelectionController manages the selection slots for one asset view.
// It is safe for concurrent use; fetches run in goroutines and re-enter
// through a single guarded apply path.
type SelectionController struct {
	store           ContentStore
	assetRef        string
	includeArchived bool
	logger          *slog.Logger

	mu    sync.Mutex
	slots [slotCount]slotState

	diff     *DiffResult
	diffGens [slotCount]uint64
}

// NewSelectionController creates a controller for one asset. Fails fast
// with ErrMissingAssetRef before any store call when assetRef is empty.
func NewSelectionController(store ContentStore, assetRef string, includeArchived bool, logger *slog.Logger) (*SelectionController, error) {
	if assetRef == "" {
		return nil, ErrMissingAssetRef
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &SelectionController{
		store:           store,
		assetRef:        assetRef,
		includeArchived: includeArchived,
		logger:          logger,
	}
	for i := range c.slots {
		c.slots[i].phase = SelectionUnselected
	}
	return c, nil
}

// Select points slot at versionID and fetches its manifest. Re-selecting a
// target the slot already holds Ready is a no-op; use Refresh to force a
// fetch.
func (c *SelectionController) Select(ctx context.Context, slot Slot, versionID int64) {
	c.selectTarget(ctx, slot, selectionTarget{VersionID: versionID}, false)
}

// SelectLive points slot at the live (unversioned) manifest.
func (c *SelectionController) SelectLive(ctx context.Context, slot Slot) {
	c.selectTarget(ctx, slot, selectionTarget{Live: true}, false)
}

// Refresh re-fetches the slot's current target even when it is Ready.
// A slot with no target is left untouched.
func (c *SelectionController) Refresh(ctx context.Context, slot Slot) {
	c.mu.Lock()
	s := &c.slots[slot]
	if s.phase == SelectionUnselected {
		c.mu.Unlock()
		return
	}
	target := s.target
	c.mu.Unlock()
	c.selectTarget(ctx, slot, target, true)
}

// Clear resets the slot to unselected. Any in-flight fetch for it becomes
// stale.
func (c *SelectionController) Clear(slot Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.slots[slot]
	s.generation++
	s.phase = SelectionUnselected
	s.target = selectionTarget{}
	s.manifest = nil
	s.err = nil
}

// State returns a snapshot of the slot.
func (c *SelectionController) State(slot Slot) SelectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[slot]
	return SelectionState{
		Phase:      s.phase,
		VersionID:  s.target.VersionID,
		Live:       s.target.Live,
		Generation: s.generation,
		Manifest:   s.manifest,
		Err:        s.err,
	}
}

// Diff returns the manifest comparison of slot A against slot B, or nil
// while either slot is not Ready. The result is cached per generation pair.
func (c *SelectionController) Diff() *DiffResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, b := &c.slots[SlotA], &c.slots[SlotB]
	if a.phase != SelectionReady || b.phase != SelectionReady {
		return nil
	}
	if c.diff != nil && c.diffGens[SlotA] == a.generation && c.diffGens[SlotB] == b.generation {
		return c.diff
	}

	result := ComputeDiff(a.manifest, b.manifest)
	c.diff = &result
	c.diffGens[SlotA] = a.generation
	c.diffGens[SlotB] = b.generation
	return c.diff
}

func (c *SelectionController) selectTarget(ctx context.Context, slot Slot, target selectionTarget, force bool) {
	c.mu.Lock()
	s := &c.slots[slot]
	if !force && s.phase == SelectionReady && s.target == target {
		// Already holding this manifest; skip the redundant round-trip.
		c.mu.Unlock()
		return
	}
	s.generation++
	s.phase = SelectionPending
	s.target = target
	s.err = nil
	generation := s.generation
	c.mu.Unlock()

	go c.fetch(ctx, slot, target, generation)
}

func (c *SelectionController) fetch(ctx context.Context, slot Slot, target selectionTarget, generation uint64) {
	var manifest *Manifest
	var err error

	if target.Live {
		manifest, err = c.store.GetCurrentManifest(ctx, c.assetRef, c.includeArchived)
		if err != nil {
			err = fmt.Errorf("get current manifest for %s: %w", c.assetRef, err)
		}
	} else {
		var vm VersionManifest
		vm, err = c.store.GetVersionManifest(ctx, c.assetRef, target.VersionID)
		if err != nil {
			err = fmt.Errorf("get manifest for %s version %d: %w", c.assetRef, target.VersionID, err)
		} else {
			manifest = vm.Manifest
		}
	}

	c.apply(ctx, slot, target, generation, manifest, err)
}

// apply installs a fetch result, unless the slot has moved on. The
// generation-and-target check is the sole ordering guarantee; a mismatch
// means a newer selection was issued and this result is silently dropped.
func (c *SelectionController) apply(ctx context.Context, slot Slot, target selectionTarget, generation uint64, manifest *Manifest, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.slots[slot]
	if s.generation != generation || s.target != target {
		c.logger.DebugContext(ctx, "discarding stale selection result",
			"asset", c.assetRef,
			"slot", int(slot),
			"result_generation", generation,
			"current_generation", s.generation,
		)
		return
	}

	if err != nil {
		s.phase = SelectionFailed
		s.manifest = nil
		s.err = err
		c.logger.WarnContext(ctx, "selection fetch failed",
			"asset", c.assetRef,
			"slot", int(slot),
			"live", target.Live,
			"version_id", target.VersionID,
			"error", err,
		)
		return
	}

	s.phase = SelectionReady
	s.manifest = manifest
	s.err = nil
}
