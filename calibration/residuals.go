package calibration

import (
	"github.com/edaniels/golog"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/sfminit/sfm"
	"go.viam.com/sfminit/utils"
)

// Residuals collects the reprojection error of every observation in the
// scene, in pixels. Observations of unposed views are skipped.
func Residuals(scene *sfm.Scene) ([]float64, error) {
	var out []float64
	for _, landmark := range scene.Landmarks {
		for viewID, obs := range landmark.Observations {
			view, ok := scene.Views[viewID]
			if !ok {
				continue
			}
			pose, ok := scene.Poses[view.PoseID]
			if !ok {
				continue
			}
			model, err := scene.ViewCamera(viewID)
			if err != nil {
				return nil, errors.Wrapf(err, "view %d", viewID)
			}
			projected := model.Project(pose.Apply(landmark.X))
			out = append(out, projected.Sub(obs.Coords).Norm())
		}
	}
	return out, nil
}

// ResidualHistogram tallies the scene's reprojection errors into a
// fixed-range pixel histogram for display.
func ResidualHistogram(scene *sfm.Scene, maxPixels float64, nBins int) (*utils.Histogram, error) {
	residuals, err := Residuals(scene)
	if err != nil {
		return nil, err
	}
	hist := utils.NewHistogram(0, maxPixels, nBins)
	hist.AddAll(residuals)
	return hist, nil
}

func logResiduals(scene *sfm.Scene, logger golog.Logger) {
	residuals, err := Residuals(scene)
	if err != nil {
		logger.Warnf("cannot compute residuals: %s", err)
		return
	}
	if len(residuals) == 0 {
		logger.Warn("no observations to compute residuals from")
		return
	}
	median, err := stats.Median(residuals)
	if err != nil {
		logger.Warnf("cannot compute residual statistics: %s", err)
		return
	}
	max, _ := stats.Max(residuals)
	logger.Infof("reprojection error over %d observations: median %.4fpx, max %.4fpx", len(residuals), median, max)
}
