package nn

import (
	"strconv"

	"github.com/youngquan/anomalib/tensor"
)

// Sequential chains modules. Child state is keyed by position, so
// "3.weight" is the weight of the fourth module.
type Sequential struct {
	modules []Module
}

func NewSequential(mods ...Module) *Sequential {
	return &Sequential{modules: append([]Module(nil), mods...)}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := input
	for _, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) ZeroGrad() {
	for _, m := range s.modules {
		m.ZeroGrad()
	}
}

func (s *Sequential) StateDict(prefix string, state map[string]*tensor.Tensor) {
	for idx, mod := range s.modules {
		child := JoinPrefix(prefix, strconv.Itoa(idx))
		if sm, ok := mod.(StatefulModule); ok {
			sm.StateDict(child, state)
		} else if len(mod.Parameters()) > 0 {
			captureParameters(child, mod, state)
		}
	}
}

func (s *Sequential) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	for idx, mod := range s.modules {
		child := JoinPrefix(prefix, strconv.Itoa(idx))
		if sm, ok := mod.(StatefulModule); ok {
			if err := sm.LoadState(child, state); err != nil {
				return err
			}
		} else if len(mod.Parameters()) > 0 {
			if err := loadParameters(child, mod, state); err != nil {
				return err
			}
		}
	}
	return nil
}
