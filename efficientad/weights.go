package efficientad

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const pretrainedWeightsDir = "efficientad_pretrained_weights"

// WeightsFetcher populates a weights directory, typically by downloading and
// extracting an archive.
type WeightsFetcher interface {
	Fetch(dir string) error
}

// TeacherLoader loads frozen teacher parameters from a file.
type TeacherLoader interface {
	LoadTeacher(path string) error
}

// TeacherWeightsPath is where the pretrained teacher of the given size is expected under dir.
func TeacherWeightsPath(dir string, size ModelSize) string {
	return filepath.Join(dir, pretrainedWeightsDir, fmt.Sprintf("pretrained_teacher_%s.json", size))
}

// PreparePretrainedModel makes sure the pretrained weights exist under dir and
// loads the teacher. fetcher may be nil, in which case missing weights are an error.
func PreparePretrainedModel(dir string, size ModelSize, loader TeacherLoader, fetcher WeightsFetcher, log *logrus.Entry) error {
	log = componentLogger(log, "weights")
	if !size.Valid() {
		return errors.Errorf("unknown model size %q", size)
	}
	weightsDir := filepath.Join(dir, pretrainedWeightsDir)
	if _, err := os.Stat(weightsDir); os.IsNotExist(err) {
		if fetcher == nil {
			return errors.Wrap(ErrMissingWeights, weightsDir)
		}
		log.WithField("dir", weightsDir).Info("downloading pretrained weights")
		if err := fetcher.Fetch(dir); err != nil {
			return errors.Wrap(err, "fetch pretrained weights")
		}
	} else if err != nil {
		return errors.Wrap(err, "stat weights directory")
	}
	path := TeacherWeightsPath(dir, size)
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(ErrMissingWeights, path)
	}
	if err := loader.LoadTeacher(path); err != nil {
		return errors.Wrapf(err, "load teacher from %s", path)
	}
	log.WithFields(logrus.Fields{"path": path, "size": size}).Info("pretrained teacher loaded")
	return nil
}
