package signals

import "sync"

// Drafts holds unsent text per target for one client session. Nothing here
// is ever transmitted to other viewers.
type Drafts struct {
	mu     sync.Mutex
	drafts map[string]string
}

func NewDrafts() *Drafts {
	return &Drafts{drafts: make(map[string]string)}
}

// Save stores text for key. Empty text clears the draft.
func (d *Drafts) Save(key, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "" {
		delete(d.drafts, key)
		return
	}
	d.drafts[key] = text
}

func (d *Drafts) Get(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drafts[key]
}

func (d *Drafts) Clear(key string) {
	d.Save(key, "")
}
