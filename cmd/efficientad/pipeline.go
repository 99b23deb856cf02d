package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/data"
	"github.com/youngquan/anomalib/efficientad"
	"github.com/youngquan/anomalib/internal/config"
	"github.com/youngquan/anomalib/internal/download"
	"github.com/youngquan/anomalib/pdn"
)

// pipeline holds everything a command needs to run the model on a dataset.
type pipeline struct {
	cfg     *config.Config
	state   *efficientad.NormalizationState
	model   *pdn.Model
	module  *efficientad.EfficientAd
	metrics *efficientad.LogrusMetrics
	train   *data.Loader
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Data.Root == "" {
		return nil, errors.New("data.root is required")
	}
	return cfg, nil
}

// newPipeline builds the model and the training loader. When resume is set,
// a saved normalization state and checkpoint are restored if present.
func newPipeline(cfg *config.Config, resume bool) (*pipeline, error) {
	log := logrus.NewEntry(logrus.StandardLogger())

	state := efficientad.NewNormalizationState()
	if resume && fileExists(cfg.Trainer.StatePath) {
		restored, err := efficientad.LoadNormalizationState(cfg.Trainer.StatePath)
		if err != nil {
			return nil, err
		}
		state = restored
		log.WithField("path", cfg.Trainer.StatePath).Info("restored normalization state")
	}

	size := efficientad.ModelSize(cfg.Model.Size)
	model, err := pdn.NewModel(pdn.Config{
		Size:             size,
		OutChannels:      cfg.Model.TeacherOutChannels,
		Width:            cfg.Model.Width,
		AutoencoderWidth: cfg.Model.AutoencoderWidth,
		Padding:          cfg.Model.Padding,
		PadMaps:          cfg.Model.PadMaps,
		Seed:             cfg.Model.Seed,
	}, state)
	if err != nil {
		return nil, errors.Wrap(err, "build model")
	}

	var fetcher efficientad.WeightsFetcher
	if len(cfg.Model.WeightsURLs) > 0 {
		fetcher = download.NewFetcher(cfg.Model.WeightsURLs, log).WithChecksum(cfg.Model.WeightsChecksum)
	}
	if err := efficientad.PreparePretrainedModel(cfg.Model.WeightsDir, size, model, fetcher, log); err != nil {
		return nil, err
	}
	if resume && fileExists(cfg.Trainer.CheckpointPath) {
		if err := model.LoadTrainable(cfg.Trainer.CheckpointPath); err != nil {
			return nil, errors.Wrapf(err, "load checkpoint %s", cfg.Trainer.CheckpointPath)
		}
		log.WithField("path", cfg.Trainer.CheckpointPath).Info("restored student and autoencoder")
	}

	transform := data.EvalTransform(cfg.Data.ImageHeight, cfg.Data.ImageWidth)
	trainSet, err := data.NewAnomalyFolder(cfg.Data.Root, "train", transform)
	if err != nil {
		return nil, errors.Wrap(err, "training set")
	}
	train, err := data.NewLoader(trainSet, data.LoaderConfig{
		BatchSize: cfg.Trainer.TrainBatchSize,
		Shuffle:   cfg.Data.Shuffle,
		Seed:      cfg.Data.Seed,
	})
	if err != nil {
		return nil, err
	}

	auxiliary, err := auxiliaryLoader(cfg, log)
	if err != nil {
		return nil, err
	}
	metrics := efficientad.NewLogrusMetrics(log)
	module, err := efficientad.New(model, state, auxiliary, efficientad.Options{
		Size:         size,
		LR:           cfg.Optimizer.LR,
		WeightDecay:  cfg.Optimizer.WeightDecay,
		QuantileSeed: cfg.Trainer.QuantileSeed,
		Metrics:      metrics,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	return &pipeline{
		cfg:     cfg,
		state:   state,
		model:   model,
		module:  module,
		metrics: metrics,
		train:   train,
	}, nil
}

// auxiliaryLoader serves shuffled ImageNette batches, downloading the
// dataset first when its directory is missing and sources are configured.
func auxiliaryLoader(cfg *config.Config, log *logrus.Entry) (*data.Loader, error) {
	root := cfg.Data.AuxiliaryRoot
	if root == "" {
		return nil, errors.New("data.auxiliary_root is required")
	}
	if !fileExists(root) && len(cfg.Data.AuxiliaryURLs) > 0 {
		log.WithField("dir", root).Info("auxiliary dataset missing, downloading")
		f := download.NewFetcher(cfg.Data.AuxiliaryURLs, log).
			WithArchive("imagenette2.tgz").
			WithChecksum(cfg.Data.AuxiliaryChecksum).
			WithTimeout(time.Hour)
		if err := f.Fetch(root); err != nil {
			return nil, errors.Wrap(err, "auxiliary set")
		}
	}
	rng := rand.New(rand.NewSource(cfg.Data.Seed))
	ds, err := data.NewImageFolder(root, data.ImagenetteTransform(cfg.Data.ImageHeight, cfg.Data.ImageWidth, rng))
	if err != nil {
		return nil, errors.Wrap(err, "auxiliary set")
	}
	return data.NewLoader(ds, data.LoaderConfig{
		BatchSize: cfg.Data.AuxiliaryBatchSize,
		Shuffle:   true,
		Seed:      cfg.Data.Seed,
	})
}

func (p *pipeline) validationLoader() (*data.Loader, error) {
	transform := data.EvalTransform(p.cfg.Data.ImageHeight, p.cfg.Data.ImageWidth)
	ds, err := data.NewAnomalyFolder(p.cfg.Data.Root, "test", transform)
	if err != nil {
		return nil, errors.Wrap(err, "validation set")
	}
	return data.NewLoader(ds, data.LoaderConfig{BatchSize: p.cfg.Trainer.EvalBatchSize})
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
