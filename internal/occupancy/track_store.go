package occupancy

import (
	"sort"

	"github.com/banshee-data/occupancy.report/internal/geometry"
)

// TrackState is the last accepted reading of a track.
type TrackState struct {
	LastPosition geometry.Point
	LastDistance float64
	LastInside   bool
	// HasPrior is false until the first valid reading and after a reset.
	HasPrior bool
}

// TrackStore holds per-track state keyed by track id. It is owned by the
// tick loop and is not safe for concurrent use.
type TrackStore struct {
	tracks map[string]*TrackState
}

// NewTrackStore returns an empty store.
func NewTrackStore() *TrackStore {
	return &TrackStore{tracks: make(map[string]*TrackState)}
}

// Get returns the state for id and whether the id is known.
func (s *TrackStore) Get(id string) (TrackState, bool) {
	st, ok := s.tracks[id]
	if !ok {
		return TrackState{}, false
	}
	return *st, true
}

// Update overwrites the state for id, creating the entry if needed.
func (s *TrackStore) Update(id string, pos geometry.Point, distance float64, inside bool) {
	st, ok := s.tracks[id]
	if !ok {
		st = &TrackState{}
		s.tracks[id] = st
	}
	st.LastPosition = pos
	st.LastDistance = distance
	st.LastInside = inside
	st.HasPrior = true
}

// Reset clears the stored reading for id but keeps the id known, so the next
// valid reading is treated as a first sighting. It reports whether the track
// had a prior reading.
func (s *TrackStore) Reset(id string) bool {
	st, ok := s.tracks[id]
	if !ok {
		return false
	}
	had := st.HasPrior
	*st = TrackState{}
	return had
}

// ActiveIDs returns the ids holding a prior reading, sorted.
func (s *TrackStore) ActiveIDs() []string {
	ids := make([]string, 0, len(s.tracks))
	for id, st := range s.tracks {
		if st.HasPrior {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known track ids.
func (s *TrackStore) Len() int { return len(s.tracks) }
