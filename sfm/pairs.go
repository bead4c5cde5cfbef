package sfm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ReconstructedPair is a candidate two-view reconstruction: the relative
// pose of Next with respect to Reference, x_next = R x_ref + t.
type ReconstructedPair struct {
	Reference   ID
	Next        ID
	Rotation    *mat.Dense
	Translation r3.Vector
}

type pairJSON struct {
	Reference   ID         `json:"reference"`
	Next        ID         `json:"next"`
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

var pairsFilePattern = regexp.MustCompile(`^pairs_\d+\.json$`)

// LoadPairsDirectory reads every pairs_<n>.json file in dir and returns
// their candidate pairs concatenated in lexical file order. Files with
// other names are ignored. An empty result is not an error here; callers
// decide whether zero candidates is fatal.
func LoadPairsDirectory(dir string) ([]ReconstructedPair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read pairs directory")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !pairsFilePattern.MatchString(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var out []ReconstructedPair
	for _, name := range names {
		pairs, err := loadPairsFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

func loadPairsFile(path string) ([]ReconstructedPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read pairs file")
	}
	var doc []pairJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "cannot parse pairs file %q", path)
	}
	out := make([]ReconstructedPair, 0, len(doc))
	for _, p := range doc {
		out = append(out, ReconstructedPair{
			Reference:   p.Reference,
			Next:        p.Next,
			Rotation:    mat.NewDense(3, 3, append([]float64{}, p.Rotation[:]...)),
			Translation: r3.Vector{X: p.Translation[0], Y: p.Translation[1], Z: p.Translation[2]},
		})
	}
	return out, nil
}
