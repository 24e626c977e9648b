package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// BlacklistEntry records one rejected product.
type BlacklistEntry struct {
	ID     string    `json:"id"`
	Reason string    `json:"reason"`
	Added  time.Time `json:"added"`
}

// Blacklist tracks products that must not be processed again. Entries
// persist as JSON lines when a path is configured; an empty path keeps
// the list in memory only.
type Blacklist struct {
	path string

	mu      sync.Mutex
	entries map[string]BlacklistEntry
}

// LoadBlacklist reads the blacklist at path. A missing file yields an
// empty list; malformed lines are an error.
func LoadBlacklist(path string) (*Blacklist, error) {
	b := &Blacklist{
		path:    path,
		entries: make(map[string]BlacklistEntry),
	}
	if path == "" {
		return b, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("failed to open blacklist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e BlacklistEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse blacklist entry: %w", err)
		}
		b.entries[e.ID] = e
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}
	return b, nil
}

// Contains reports whether the product id is blacklisted.
func (b *Blacklist) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok
}

// Len returns the number of blacklisted products.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Add blacklists a product. Already known ids are ignored. When a path
// is configured the entry is appended immediately.
func (b *Blacklist) Add(id, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; ok {
		return nil
	}
	e := BlacklistEntry{ID: id, Reason: reason, Added: time.Now().UTC()}
	b.entries[id] = e

	if b.path == "" {
		return nil
	}
	return appendEntry(b.path, e)
}

// Save rewrites the whole blacklist file.
func (b *Blacklist) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path == "" {
		return nil
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write blacklist: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, e := range b.entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("failed to write blacklist entry: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close blacklist: %w", err)
	}
	return nil
}

func appendEntry(path string, e BlacklistEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open blacklist for append: %w", err)
	}
	err = json.NewEncoder(f).Encode(e)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to append blacklist entry: %w", err)
	}
	return nil
}
