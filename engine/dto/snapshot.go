package dto

import "time"

// Snapshot models a single snapshot as returned by the `snapshots --json`
// subcommand of an engine.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id,omitempty"`
	Time     time.Time `json:"time"`
	Parent   string    `json:"parent,omitempty"`
	Tree     string    `json:"tree,omitempty"`
	Paths    []string  `json:"paths"`
	Hostname string    `json:"hostname,omitempty"`
	Username string    `json:"username,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	// SizeBytes is nil if the engine did not report a size.
	SizeBytes *int64 `json:"size_bytes,omitempty"`
}

// Newer reports whether s sorts before o when ordering newest first.
// Snapshots taken at the same second are ordered by ID ascending.
func (s Snapshot) Newer(o Snapshot) bool {
	if !s.Time.Equal(o.Time) {
		return s.Time.After(o.Time)
	}
	return s.ID < o.ID
}

// HasTags returns true if the snapshot carries every one of the given tags.
func (s Snapshot) HasTags(tags ...string) bool {
	for _, want := range tags {
		found := false
		for _, tag := range s.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
