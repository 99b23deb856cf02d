package data

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFolder is a dataset where each subdirectory of root is a class.
// Images are collected recursively below each class directory.
type ImageFolder struct {
	paths      []string
	labels     []int
	classNames []string
	transform  Transform
}

func NewImageFolder(root string, transform Transform) (*ImageFolder, error) {
	if transform == nil {
		return nil, errors.New("image folder requires a transform")
	}
	classes, err := subdirectories(root)
	if err != nil {
		return nil, err
	}
	ds := &ImageFolder{transform: transform}
	for idx, class := range classes {
		files, err := imageTree(filepath.Join(root, class))
		if err != nil {
			return nil, err
		}
		ds.classNames = append(ds.classNames, class)
		for _, f := range files {
			ds.paths = append(ds.paths, f)
			ds.labels = append(ds.labels, idx)
		}
	}
	if len(ds.paths) == 0 {
		return nil, errors.Errorf("no images found in %s", root)
	}
	return ds, nil
}

func (d *ImageFolder) Len() int {
	return len(d.paths)
}

func (d *ImageFolder) Item(index int) (*Sample, error) {
	if index < 0 || index >= len(d.paths) {
		return nil, errors.Errorf("index %d out of range [0, %d)", index, len(d.paths))
	}
	img, err := loadImage(d.paths[index], d.transform)
	if err != nil {
		return nil, err
	}
	return &Sample{Image: img, Label: d.labels[index], Path: d.paths[index]}, nil
}

func (d *ImageFolder) ClassNames() []string {
	return append([]string(nil), d.classNames...)
}

// AnomalyFolder reads root/<split>/<category>/ images. Images under the
// "good" category are labelled normal, everything else anomalous.
type AnomalyFolder struct {
	paths     []string
	labels    []int
	transform Transform
}

const normalCategory = "good"

func NewAnomalyFolder(root, split string, transform Transform) (*AnomalyFolder, error) {
	if transform == nil {
		return nil, errors.New("anomaly folder requires a transform")
	}
	dir := filepath.Join(root, split)
	categories, err := subdirectories(dir)
	if err != nil {
		return nil, err
	}
	ds := &AnomalyFolder{transform: transform}
	for _, category := range categories {
		files, err := imageFiles(filepath.Join(dir, category))
		if err != nil {
			return nil, err
		}
		label := 1
		if category == normalCategory {
			label = LabelNormal
		}
		for _, f := range files {
			ds.paths = append(ds.paths, f)
			ds.labels = append(ds.labels, label)
		}
	}
	if len(ds.paths) == 0 {
		return nil, errors.Errorf("no images found in %s", dir)
	}
	return ds, nil
}

func (d *AnomalyFolder) Len() int {
	return len(d.paths)
}

func (d *AnomalyFolder) Item(index int) (*Sample, error) {
	if index < 0 || index >= len(d.paths) {
		return nil, errors.Errorf("index %d out of range [0, %d)", index, len(d.paths))
	}
	img, err := loadImage(d.paths[index], d.transform)
	if err != nil {
		return nil, err
	}
	return &Sample{Image: img, Label: d.labels[index], Path: d.paths[index]}, nil
}

func subdirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "list classes")
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isImage(name string) bool {
	ext := filepath.Ext(name)
	for _, allowed := range imageExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// imageTree lists the images anywhere below dir in lexical order.
func imageTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isImage(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", dir)
	}
	return files, nil
}

func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isImage(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
