// Package config loads the YAML run configuration.
package config

import (
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/youngquan/anomalib/efficientad"
)

type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Trainer   TrainerConfig   `yaml:"trainer"`
	Data      DataConfig      `yaml:"data"`
}

type ModelConfig struct {
	Size               string `yaml:"size"`
	TeacherOutChannels int    `yaml:"teacher_out_channels"`
	// Width and AutoencoderWidth shrink the networks; zero keeps the standard widths.
	Width            int    `yaml:"width"`
	AutoencoderWidth int    `yaml:"autoencoder_width"`
	// Padding pads the network convolutions and poolings. Padded pooling cells
	// count as zeros, as in torch.nn.AvgPool2d with count_include_pad.
	Padding    bool   `yaml:"padding"`
	PadMaps    bool   `yaml:"pad_maps"`
	WeightsDir string `yaml:"weights_dir"`
	// WeightsURLs are tried in order when WeightsDir does not exist.
	WeightsURLs []string `yaml:"weights_urls"`
	// WeightsChecksum is the optional MD5 hex digest of the weights archive.
	WeightsChecksum string `yaml:"weights_checksum"`
	Seed            int64  `yaml:"seed"`
}

type OptimizerConfig struct {
	LR          float64 `yaml:"lr"`
	WeightDecay float64 `yaml:"weight_decay"`
}

type TrainerConfig struct {
	// MaxEpochs and MaxSteps use -1 for unset.
	MaxEpochs      int    `yaml:"max_epochs"`
	MaxSteps       int    `yaml:"max_steps"`
	TrainBatchSize int    `yaml:"train_batch_size"`
	EvalBatchSize  int    `yaml:"eval_batch_size"`
	QuantileSeed   int64  `yaml:"quantile_seed"`
	StatePath      string `yaml:"state_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
}

type DataConfig struct {
	Root               string `yaml:"root"`
	ImageHeight        int    `yaml:"image_height"`
	ImageWidth         int    `yaml:"image_width"`
	AuxiliaryRoot      string `yaml:"auxiliary_root"`
	AuxiliaryBatchSize int    `yaml:"auxiliary_batch_size"`
	// AuxiliaryURLs are tried in order when AuxiliaryRoot does not exist.
	AuxiliaryURLs     []string `yaml:"auxiliary_urls"`
	AuxiliaryChecksum string   `yaml:"auxiliary_checksum"`
	Shuffle           bool     `yaml:"shuffle"`
	Seed              int64    `yaml:"seed"`
}

const (
	imagenetteURL      = "https://s3.amazonaws.com/fast-ai-imageclas/imagenette2.tgz"
	imagenetteChecksum = "fe2fc210e6bb7c5664d602c3cd71e612"
)

// Default returns the configuration used when a field is absent from the file.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Size:               string(efficientad.ModelSizeSmall),
			TeacherOutChannels: 384,
			Padding:            false,
			PadMaps:            true,
			WeightsDir:         "./pre_trained",
		},
		Optimizer: OptimizerConfig{
			LR:          1e-4,
			WeightDecay: 1e-5,
		},
		Trainer: TrainerConfig{
			MaxEpochs:      efficientad.Unset,
			MaxSteps:       70000,
			TrainBatchSize: 1,
			EvalBatchSize:  32,
		},
		Data: DataConfig{
			ImageHeight:        256,
			ImageWidth:         256,
			AuxiliaryRoot:      "./datasets/imagenette",
			AuxiliaryBatchSize: 1,
			AuxiliaryURLs:      []string{imagenetteURL},
			AuxiliaryChecksum:  imagenetteChecksum,
			Shuffle:            true,
		},
	}
}

// Load reads path over the defaults. A missing or empty file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to read file %s", path)
	}
	if strings.TrimSpace(string(b)) == "" {
		return c, nil
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid config in %s", path)
	}
	return c, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal config")
	}
	return pkgerrors.Wrapf(os.WriteFile(path, b, 0o644), "failed to write file %s", path)
}

func (c *Config) Validate() error {
	if !efficientad.ModelSize(c.Model.Size).Valid() {
		return pkgerrors.Errorf("unknown model size %q", c.Model.Size)
	}
	if c.Model.TeacherOutChannels <= 0 {
		return pkgerrors.Errorf("teacher_out_channels must be positive, got %d", c.Model.TeacherOutChannels)
	}
	if c.Optimizer.LR <= 0 {
		return pkgerrors.Errorf("lr must be positive, got %g", c.Optimizer.LR)
	}
	if c.Optimizer.WeightDecay < 0 {
		return pkgerrors.Errorf("weight_decay must not be negative, got %g", c.Optimizer.WeightDecay)
	}
	if c.Trainer.TrainBatchSize <= 0 || c.Trainer.EvalBatchSize <= 0 || c.Data.AuxiliaryBatchSize <= 0 {
		return pkgerrors.New("batch sizes must be positive")
	}
	if c.Data.ImageHeight <= 0 || c.Data.ImageWidth <= 0 {
		return pkgerrors.Errorf("image size must be positive, got %dx%d", c.Data.ImageHeight, c.Data.ImageWidth)
	}
	return nil
}

// Budget converts the trainer bounds; stepsPerEpoch comes from the training loader.
func (c *Config) Budget(stepsPerEpoch int) efficientad.Budget {
	return efficientad.Budget{
		MaxEpochs:     normalizeBound(c.Trainer.MaxEpochs),
		MaxSteps:      normalizeBound(c.Trainer.MaxSteps),
		StepsPerEpoch: stepsPerEpoch,
	}
}

func normalizeBound(v int) int {
	if v < 0 {
		return efficientad.Unset
	}
	return v
}
