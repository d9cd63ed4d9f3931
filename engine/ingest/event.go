package ingest

import "time"

// SubjectIndexed is the NATS subject an IndexedEvent is published on after
// every completed run.
const SubjectIndexed = "askgeorge.indexed"

// IndexedEvent tells readers of the index that its content changed, so
// cached chunk text may be stale.
type IndexedEvent struct {
	Collection string    `json:"collection"`
	Indexed    int       `json:"indexed"`
	Skipped    int       `json:"skipped"`
	Pruned     int       `json:"pruned"`
	At         time.Time `json:"at"`
}
