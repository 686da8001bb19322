package volume

import (
	"fmt"
	"sync"

	"git.srvlab.io/whiskey/volumed/pkg/props"
)

// Hook is one post-mount trigger check: a file path relative to the raw
// mount and the slot key it claims when the file is present. Hooks are
// evaluated in list order after every successful native mount; the first
// hook that fires stops the chain.
type Hook struct {
	Key     string
	Trigger string
}

// SlotRegistry coordinates the per-hook trigger slots shared by all
// volumes. Each slot is three properties (path, storage name, trigger
// flag); claiming is first-claim-wins, and release only clears a slot
// whose storage name matches the releasing volume.
type SlotRegistry struct {
	mu    sync.Mutex
	store props.Store
}

// NewSlotRegistry wraps a property store.
func NewSlotRegistry(store props.Store) *SlotRegistry {
	return &SlotRegistry{store: store}
}

func slotKeys(hookKey string) (path, storage, trigger string) {
	return fmt.Sprintf("sys.%s.path", hookKey),
		fmt.Sprintf("sys.%s.storage", hookKey),
		fmt.Sprintf("sys.%s.trigger", hookKey)
}

// Claimed reports whether the slot for hookKey is already claimed.
func (r *SlotRegistry) Claimed(hookKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimedLocked(hookKey)
}

func (r *SlotRegistry) claimedLocked(hookKey string) (bool, error) {
	_, _, triggerKey := slotKeys(hookKey)
	v, err := r.store.Get(triggerKey)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// Claim populates the slot for hookKey if it is idle. Returns true when
// this call claimed it, false when another volume got there first.
func (r *SlotRegistry) Claim(hookKey, triggerPath, storageName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimed, err := r.claimedLocked(hookKey)
	if err != nil {
		return false, err
	}
	if claimed {
		return false, nil
	}

	pathKey, storageKey, triggerKey := slotKeys(hookKey)
	if err := r.store.Set(pathKey, triggerPath); err != nil {
		return false, err
	}
	if err := r.store.Set(storageKey, storageName); err != nil {
		return false, err
	}
	if err := r.store.Set(triggerKey, "1"); err != nil {
		return false, err
	}
	return true, nil
}

// Release clears the slot for hookKey, but only when its stored storage
// name equals storageName. This keeps one volume's unmount from clearing a
// slot claimed by a different, still-mounted volume. Returns true when the
// slot was cleared.
func (r *SlotRegistry) Release(hookKey, storageName string) (bool, error) {
	if storageName == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pathKey, storageKey, triggerKey := slotKeys(hookKey)

	stored, err := r.store.Get(storageKey)
	if err != nil {
		return false, err
	}
	if stored != storageName {
		return false, nil
	}

	if err := r.store.Set(pathKey, ""); err != nil {
		return false, err
	}
	if err := r.store.Set(storageKey, ""); err != nil {
		return false, err
	}
	if err := r.store.Set(triggerKey, ""); err != nil {
		return false, err
	}
	return true, nil
}

// Slot returns the current slot contents for hookKey.
func (r *SlotRegistry) Slot(hookKey string) (triggerPath, storageName string, claimed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pathKey, storageKey, triggerKey := slotKeys(hookKey)
	if triggerPath, err = r.store.Get(pathKey); err != nil {
		return "", "", false, err
	}
	if storageName, err = r.store.Get(storageKey); err != nil {
		return "", "", false, err
	}
	flag, err := r.store.Get(triggerKey)
	if err != nil {
		return "", "", false, err
	}
	return triggerPath, storageName, flag == "1", nil
}
