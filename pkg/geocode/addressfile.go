package geocode

import (
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// ReadAddressFile reads a structured address CSV with an
// id,street,city,state,zip header.
func ReadAddressFile(path string) ([]AddressInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: read address file %s", path)
	}

	var addrs []AddressInput
	if err := csvutil.Unmarshal(data, &addrs); err != nil {
		return nil, eris.Wrapf(err, "geocode: parse address file %s", path)
	}
	return addrs, nil
}
