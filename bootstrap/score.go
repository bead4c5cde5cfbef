// Package bootstrap selects the two-view reconstruction that seeds an
// incremental structure-from-motion run. Candidate pairs come with a
// relative pose estimate; each is scored by how well-spread and how
// well-triangulated its common tracks are, and the winner initializes the
// scene.
package bootstrap

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/sfminit/camera"
	"go.viam.com/sfminit/multiview"
	"go.viam.com/sfminit/sfm"
	"go.viam.com/sfminit/utils"
)

// coverageMaxLevel bounds the image pyramid used by the coverage score.
const coverageMaxLevel = 16

// PairScore is the outcome of scoring one candidate pair.
type PairScore struct {
	Pair sfm.ReconstructedPair
	// MedianAngle is the median triangulation parallax in radians.
	MedianAngle float64
	// Score is min(coverage(ref), coverage(next)) * median angle in degrees.
	Score float64
	// UsedTracks are the common tracks that survived the epipolar and
	// depth gates, in increasing id order.
	UsedTracks []sfm.ID
}

// Options tune pair scoring and selection.
type Options struct {
	// MaxEpipolarDistance discards correspondences whose signed distance to
	// the epipolar line exceeds it, in pixels. Zero means 4.
	MaxEpipolarDistance float64
	// MinAngleDeg rejects pairs whose median parallax is below it. Zero
	// means 5 degrees.
	MinAngleDeg float64
	// Workers bounds the scoring concurrency. Zero means one per candidate.
	Workers int
}

func (o *Options) fill() {
	if o.MaxEpipolarDistance <= 0 {
		o.MaxEpipolarDistance = 4.0
	}
	if o.MinAngleDeg <= 0 {
		o.MinAngleDeg = 5.0
	}
}

// ScorePair evaluates one candidate pair. Common tracks are undistorted,
// gated on signed epipolar distance, triangulated, and kept only with
// positive depth in both views; the pair's score combines the median
// parallax angle with the coarsest image coverage of the surviving tracks.
// A pair with no surviving tracks yields ErrInsufficientData; a common
// track missing its per-view feature entry is a hard error.
func ScorePair(scene *sfm.Scene, pair sfm.ReconstructedPair, tracks sfm.TrackSet, opts Options) (*PairScore, error) {
	opts.fill()

	refModel, nextModel, err := pairCameras(scene, pair)
	if err != nil {
		return nil, err
	}

	f, err := multiview.FundamentalFromPose(refModel.K(), nextModel.K(), pair.Rotation, pair.Translation)
	if err != nil {
		return nil, err
	}

	nextPose, err := sfm.NewPose(pair.Rotation, pair.Translation)
	if err != nil {
		return nil, err
	}
	center := nextPose.Center()

	p1 := sfm.Identity().ProjectionMatrix(refModel.K())
	p2 := nextPose.ProjectionMatrix(nextModel.K())

	var angles []float64
	var used []sfm.ID
	for _, trackID := range tracks.CommonTracks(pair.Reference, pair.Next) {
		track := tracks[trackID]
		refItem, ok := track.Views[pair.Reference]
		if !ok {
			return nil, errors.Wrapf(multiview.ErrDegenerateGeometry,
				"track %d has no feature in view %d", trackID, pair.Reference)
		}
		nextItem, ok := track.Views[pair.Next]
		if !ok {
			return nil, errors.Wrapf(multiview.ErrDegenerateGeometry,
				"track %d has no feature in view %d", trackID, pair.Next)
		}

		refptu := refModel.UndistortPixel(refItem.Coords)
		nextptu := nextModel.UndistortPixel(nextItem.Coords)

		if multiview.EpipolarDistance(f, refptu, nextptu) > opts.MaxEpipolarDistance {
			continue
		}

		x := multiview.TriangulateDLT(p1, refptu, p2, nextptu)
		if x.Z <= 0 || nextPose.Depth(x) <= 0 {
			continue
		}

		ray1 := x.Mul(-1).Normalize()
		ray2 := center.Sub(x).Normalize()
		cangle := utils.Clamp(ray1.Dot(ray2), -1, 1)
		angles = append(angles, math.Acos(cangle))
		used = append(used, trackID)
	}

	if len(used) == 0 {
		return nil, errors.Wrapf(sfm.ErrInsufficientData,
			"pair (%d, %d) has no usable track", pair.Reference, pair.Next)
	}
	median, err := stats.Median(angles)
	if err != nil {
		return nil, err
	}

	refScore := coverageScore(tracks, used, pair.Reference, coverageMaxLevel)
	nextScore := coverageScore(tracks, used, pair.Next, coverageMaxLevel)

	return &PairScore{
		Pair:        pair,
		MedianAngle: median,
		Score:       math.Min(refScore, nextScore) * utils.RadToDeg(median),
		UsedTracks:  used,
	}, nil
}

// coverageScore measures how much of the image the tracks cover: each
// pyramid level counts its occupied cells, weighted toward coarse levels,
// and levels with at most one occupied cell contribute nothing.
func coverageScore(tracks sfm.TrackSet, used []sfm.ID, viewID sfm.ID, maxLevel uint) float64 {
	uniques := make([]map[[2]int64]struct{}, maxLevel-1)
	for i := range uniques {
		uniques[i] = map[[2]int64]struct{}{}
	}

	for _, trackID := range used {
		pt := tracks[trackID].Views[viewID].Coords
		ptx := int64(pt.X)
		pty := int64(pt.Y)
		for shift := uint(1); shift < maxLevel; shift++ {
			uniques[shift-1][[2]int64{ptx >> shift, pty >> shift}] = struct{}{}
		}
	}

	sum := 0.0
	for shift := uint(1); shift < maxLevel; shift++ {
		size := len(uniques[shift-1])
		if size <= 1 {
			continue
		}
		sum += math.Pow(2, float64(maxLevel-shift)) * float64(size)
	}
	return sum
}

func pairCameras(scene *sfm.Scene, pair sfm.ReconstructedPair) (camera.Model, camera.Model, error) {
	refModel, err := scene.ViewCamera(pair.Reference)
	if err != nil {
		return nil, nil, err
	}
	nextModel, err := scene.ViewCamera(pair.Next)
	if err != nil {
		return nil, nil, err
	}
	return refModel, nextModel, nil
}
