package sfm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// CheckerBoard is one detected checkerboard: a rows x cols grid of corner
// ids in row-major order, UndefinedID where no corner was detected.
type CheckerBoard struct {
	Rows  int  `json:"rows"`
	Cols  int  `json:"cols"`
	Cells []ID `json:"cells"`
}

// At returns the corner id at grid position (row, col).
func (b *CheckerBoard) At(row, col int) ID {
	return b.Cells[row*b.Cols+col]
}

// DetectedCount is the number of grid cells with a detected corner.
func (b *CheckerBoard) DetectedCount() int {
	n := 0
	for _, id := range b.Cells {
		if id != UndefinedID {
			n++
		}
	}
	return n
}

// BoardDetection is the checkerboard detector output for one view: the
// boards found plus the shared list of corner centers the grids index into.
type BoardDetection struct {
	Boards  []CheckerBoard
	Corners []r2.Point
}

// Corner resolves a grid cell id to its image position. The second return
// is false for the UndefinedID sentinel or an out-of-range id.
func (d *BoardDetection) Corner(id ID) (r2.Point, bool) {
	if id == UndefinedID || int(id) < 0 || int(id) >= len(d.Corners) {
		return r2.Point{}, false
	}
	return d.Corners[int(id)], true
}

type boardDetectionJSON struct {
	Boards  []CheckerBoard `json:"boards"`
	Corners [][2]float64   `json:"corners"`
}

// BoardDetectionPath is the conventional file name for a view's detection
// inside a checkerboards directory.
func BoardDetectionPath(dir string, viewID ID) string {
	return filepath.Join(dir, fmt.Sprintf("checkers_%d.json", viewID))
}

// LoadBoardDetection reads one view's checkerboard detection file. Grids
// referencing corners outside the corner list are rejected.
func LoadBoardDetection(path string) (*BoardDetection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read board detection file")
	}
	var doc boardDetectionJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "cannot parse board detection file %q", path)
	}
	det := &BoardDetection{Boards: doc.Boards}
	for _, c := range doc.Corners {
		det.Corners = append(det.Corners, r2.Point{X: c[0], Y: c[1]})
	}
	for i, b := range det.Boards {
		if b.Rows <= 0 || b.Cols <= 0 || len(b.Cells) != b.Rows*b.Cols {
			return nil, errors.Errorf("board %d has grid %dx%d but %d cells", i, b.Rows, b.Cols, len(b.Cells))
		}
		for _, id := range b.Cells {
			if id == UndefinedID {
				continue
			}
			if int(id) < 0 || int(id) >= len(det.Corners) {
				return nil, errors.Errorf("board %d references corner %d of %d", i, id, len(det.Corners))
			}
		}
	}
	return det, nil
}
