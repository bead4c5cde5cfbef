package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
)

// TrackItem is one view's measurement inside a feature track.
type TrackItem struct {
	FeatureID ID
	Coords    r2.Point
	Scale     float64
}

// Track is a feature matched across several views, keyed by view id.
type Track struct {
	DescType string
	Views    map[ID]TrackItem
}

// TrackSet holds all multi-view tracks keyed by track id.
type TrackSet map[ID]*Track

// CommonTracks returns the ids of tracks observed in both views, in
// increasing order so downstream consumers iterate deterministically.
func (ts TrackSet) CommonTracks(viewA, viewB ID) []ID {
	var out []ID
	for id, track := range ts {
		if _, ok := track.Views[viewA]; !ok {
			continue
		}
		if _, ok := track.Views[viewB]; !ok {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
