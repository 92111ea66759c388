package booking

import (
	"sort"
	"sync"
)

const (
	lockPrefixItem    = "item:"
	lockPrefixAccount = "account:"
)

// lockArena hands out one mutex per resource key so that operations touching
// the same item or account serialize while unrelated operations proceed.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*sync.Mutex)}
}

func (arena *lockArena) mutexFor(key string) *sync.Mutex {
	arena.mu.Lock()
	defer arena.mu.Unlock()
	lock, ok := arena.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		arena.locks[key] = lock
	}
	return lock
}

// acquire locks the keys in the given order and returns a release function
// that unlocks them in reverse. Callers must pass keys in the global lock
// order: item first, then account keys sorted by id.
func (arena *lockArena) acquire(keys ...string) func() {
	held := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		lock := arena.mutexFor(key)
		lock.Lock()
		held = append(held, lock)
	}
	return func() {
		for index := len(held) - 1; index >= 0; index-- {
			held[index].Unlock()
		}
	}
}

// resourceKeys builds the lock-ordered key list for an item and the accounts
// it touches: item first, then deduplicated account ids sorted lexically.
func resourceKeys(itemID string, accountIDs ...string) []string {
	keys := make([]string, 0, len(accountIDs)+1)
	if itemID != "" {
		keys = append(keys, lockPrefixItem+itemID)
	}
	seen := make(map[string]bool, len(accountIDs))
	accounts := make([]string, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		if accountID == "" || seen[accountID] {
			continue
		}
		seen[accountID] = true
		accounts = append(accounts, accountID)
	}
	sort.Strings(accounts)
	for _, accountID := range accounts {
		keys = append(keys, lockPrefixAccount+accountID)
	}
	return keys
}
