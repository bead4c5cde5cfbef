package bootstrap

import (
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/sfminit/multiview"
	"go.viam.com/sfminit/sfm"
	"go.viam.com/sfminit/utils"
)

// SelectBest scores every candidate pair and returns the one maximizing
// the coverage-weighted parallax score, subject to the minimum median
// angle. Candidates are scored concurrently but the winner is chosen by a
// single deterministic scan in input order, with strict improvement
// required, so equal scores keep the earlier candidate and repeated runs
// agree. No candidate passing the gates yields ErrInsufficientData.
func SelectBest(scene *sfm.Scene, pairs []sfm.ReconstructedPair, tracks sfm.TrackSet, opts Options, logger golog.Logger) (*PairScore, error) {
	opts.fill()
	if len(pairs) == 0 {
		return nil, errors.Wrap(sfm.ErrInsufficientData, "no candidate pairs")
	}

	scores := make([]*PairScore, len(pairs))
	errs := make([]error, len(pairs))

	workers := opts.Workers
	if workers <= 0 || workers > len(pairs) {
		workers = len(pairs)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			for i := w; i < len(pairs); i += workers {
				scores[i], errs[i] = ScorePair(scene, pairs[i], tracks, opts)
			}
		})
	}
	wg.Wait()

	var best *PairScore
	for i, score := range scores {
		if errs[i] != nil {
			// a pair with no usable tracks is merely not a candidate
			if errors.Is(errs[i], sfm.ErrInsufficientData) {
				logger.Debugf("pair (%d, %d): %s", pairs[i].Reference, pairs[i].Next, errs[i])
				continue
			}
			return nil, errs[i]
		}
		if utils.RadToDeg(score.MedianAngle) < opts.MinAngleDeg {
			logger.Debugf("pair (%d, %d): median angle %.2f below %.2f degrees",
				pairs[i].Reference, pairs[i].Next, utils.RadToDeg(score.MedianAngle), opts.MinAngleDeg)
			continue
		}
		if best == nil || score.Score > best.Score {
			best = score
		}
	}
	if best == nil {
		return nil, errors.Wrap(sfm.ErrInsufficientData, "no pair passed the selection gates")
	}
	logger.Infof("best pair is (%d, %d) with score %.1f and median angle %.2f degrees",
		best.Pair.Reference, best.Pair.Next, best.Score, utils.RadToDeg(best.MedianAngle))
	return best, nil
}

// SeedScene initializes the scene from the winning pair: the reference
// view takes the identity pose, the next view the pair's relative pose,
// and each surviving track becomes a landmark triangulated from its two
// undistorted observations. Tracks that triangulate behind either camera
// are dropped.
func SeedScene(scene *sfm.Scene, best *PairScore, tracks sfm.TrackSet) error {
	pair := best.Pair
	refModel, nextModel, err := pairCameras(scene, pair)
	if err != nil {
		return err
	}

	nextPose, err := sfm.NewPose(pair.Rotation, pair.Translation)
	if err != nil {
		return err
	}

	refView := scene.Views[pair.Reference]
	nextView := scene.Views[pair.Next]
	if refView.PoseID == sfm.UndefinedID {
		refView.PoseID = refView.ID
	}
	if nextView.PoseID == sfm.UndefinedID {
		nextView.PoseID = nextView.ID
	}
	scene.Poses[refView.PoseID] = sfm.Identity()
	scene.Poses[nextView.PoseID] = nextPose

	p1 := sfm.Identity().ProjectionMatrix(refModel.K())
	p2 := nextPose.ProjectionMatrix(nextModel.K())

	for _, trackID := range best.UsedTracks {
		track, ok := tracks[trackID]
		if !ok {
			return errors.Errorf("track %d not found", trackID)
		}
		refItem := track.Views[pair.Reference]
		nextItem := track.Views[pair.Next]

		refptu := refModel.UndistortPixel(refItem.Coords)
		nextptu := nextModel.UndistortPixel(nextItem.Coords)

		x := multiview.TriangulateDLT(p1, refptu, p2, nextptu)
		if x.Z <= 0 || nextPose.Depth(x) <= 0 {
			continue
		}

		scene.Landmarks[trackID] = &sfm.Landmark{
			X:        x,
			DescType: track.DescType,
			Observations: map[sfm.ID]*sfm.Observation{
				pair.Reference: {Coords: refItem.Coords, FeatureID: refItem.FeatureID, Scale: refItem.Scale},
				pair.Next:      {Coords: nextItem.Coords, FeatureID: nextItem.FeatureID, Scale: nextItem.Scale},
			},
		}
	}
	return nil
}
