package instrument

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk shape of an optional instrument seed list.
type seedFile struct {
	Instruments []seedEntry `yaml:"instruments"`
}

type seedEntry struct {
	Symbol     string  `yaml:"symbol"`
	AssetClass string  `yaml:"asset_class"`
	Exchange   string  `yaml:"exchange"`
	Currency   string  `yaml:"currency"`
	Multiplier float64 `yaml:"multiplier"`
}

// LoadSeedFile registers every instrument listed in path. It is optional
// infrastructure: a registry left unseeded still works correctly, since
// Register is idempotent and instruments are created lazily on first trade.
func (r *Registry) LoadSeedFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read instrument seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, fmt.Errorf("parse instrument seed file: %w", err)
	}

	for _, e := range sf.Instruments {
		r.Register(e.Symbol, Options{
			AssetClass: AssetClass(e.AssetClass),
			Exchange:   e.Exchange,
			Currency:   e.Currency,
			Multiplier: e.Multiplier,
		})
	}
	return len(sf.Instruments), nil
}
