package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// mapProvider feeds an in-memory map to koanf. Dotted keys are expanded
// into nested sections.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
