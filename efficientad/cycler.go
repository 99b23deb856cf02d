package efficientad

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/youngquan/anomalib/data"
)

// Cycler serves auxiliary batches indefinitely by starting a new pass over
// its source whenever the current one runs out.
type Cycler struct {
	source   data.Iterable
	iter     data.Iterator
	restarts int
	served   int
	log      *logrus.Entry
}

func NewCycler(source data.Iterable, log *logrus.Entry) *Cycler {
	return &Cycler{
		source: source,
		iter:   source.Iter(),
		log:    componentLogger(log, "auxiliary"),
	}
}

// NextBatch returns the next auxiliary batch. Exhaustion of the current pass
// is absorbed; only a fresh pass that yields nothing is an error.
func (c *Cycler) NextBatch() (*data.Batch, error) {
	batch, err := c.iter.Next()
	if err == io.EOF {
		c.iter = c.source.Iter()
		c.restarts++
		c.log.WithField("restarts", c.restarts).Debug("auxiliary pass exhausted, restarting")
		batch, err = c.iter.Next()
		if err == io.EOF {
			return nil, ErrEmptyAuxiliary
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "auxiliary batch")
	}
	c.served++
	return batch, nil
}

// Restarts is the number of times a new pass was started.
func (c *Cycler) Restarts() int {
	return c.restarts
}

func (c *Cycler) Served() int {
	return c.served
}
