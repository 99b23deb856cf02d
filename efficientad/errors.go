package efficientad

import "github.com/pkg/errors"

var (
	// ErrNoTrainingBound means neither max epochs nor max steps is set, so the
	// learning-rate decay cannot be anchored.
	ErrNoTrainingBound = errors.New("a finite number of steps or epochs must be defined")

	// ErrEmptyHorizon means the configured budget resolves to zero training steps.
	ErrEmptyHorizon = errors.New("training horizon must be at least one step")

	// ErrNoBatches is returned when channel statistics are finalized before any batch was seen.
	ErrNoBatches = errors.New("channel statistics computed over an empty batch sequence")

	ErrChannelMismatch = errors.New("activation channel count changed between batches")

	// ErrNoNormalMaps is returned when a quantile pass sees no normal sample.
	ErrNoNormalMaps = errors.New("no normal samples available for map quantiles")

	// ErrEmptyAuxiliary is returned when a freshly started auxiliary pass yields nothing.
	ErrEmptyAuxiliary = errors.New("auxiliary dataset produced no batches")

	ErrMissingWeights = errors.New("pretrained teacher weights not found")

	ErrPartialState = errors.New("normalization state is partially set")
)
