package embedded

import (
	"sync"

	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// siwsCell is the single pending SIWS challenge. A new challenge replaces
// the previous one; completing login or link always empties it.
type siwsCell struct {
	mu      sync.Mutex
	params  *PendingSiwsParams
	message string
}

func (c *siwsCell) set(params PendingSiwsParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = &params
	c.message = ""
}

func (c *siwsCell) setMessage(params PendingSiwsParams, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent generate may have replaced the params in the meantime.
	if c.params == nil || *c.params != params {
		return false
	}
	c.message = message
	return true
}

// consume empties the cell and returns its params if message is the issued challenge.
func (c *siwsCell) consume(message string) (PendingSiwsParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	params, issued := c.params, c.message
	c.params = nil
	c.message = ""

	if params == nil || issued == "" {
		return PendingSiwsParams{}, tserr.ErrNoPendingChallenge
	}
	if message != issued {
		return PendingSiwsParams{}, tserr.ErrChallengeMismatch
	}
	return *params, nil
}

func (c *siwsCell) pending() (PendingSiwsParams, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.params == nil {
		return PendingSiwsParams{}, "", false
	}
	return *c.params, c.message, true
}

func (c *siwsCell) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = nil
	c.message = ""
}
