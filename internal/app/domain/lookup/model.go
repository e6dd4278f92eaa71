// Package lookup defines the per-station broadcast cell polled by the POS
// front end. Advisory navigation state only, never an authorization source.
package lookup

import "time"

// Cell is the latest scan result for one station. At most one live row per
// station; each publish fully overwrites the previous one. StudentName is
// plaintext here because the downstream POS cannot decrypt.
type Cell struct {
	StationID   string
	StudentID   string
	StudentName string
	PlanID      string
	Eligible    bool
	PublishedAt time.Time
}

// FresherThan reports whether the cell was published within maxAge of now.
func (c Cell) FresherThan(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.PublishedAt) <= maxAge
}
