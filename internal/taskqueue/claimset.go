package taskqueue

import "sync"

// ClaimSet tracks task base names currently held by a Supervisor's worker
// pool, preventing two workers from claiming the same task file.
type ClaimSet struct {
	mu      sync.Mutex
	claimed map[string]bool
}

// NewClaimSet returns an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{claimed: make(map[string]bool)}
}

// TryClaim marks name as claimed, returning false if it was already held.
func (c *ClaimSet) TryClaim(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed[name] {
		return false
	}
	c.claimed[name] = true
	return true
}

// IsClaimed reports whether name is currently held.
func (c *ClaimSet) IsClaimed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed[name]
}

// Release drops name from the claim set, e.g. after completeTask/failTask.
func (c *ClaimSet) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, name)
}
