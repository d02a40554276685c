package oracle

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/otcbroker/broker/domain"
)

// LoadTable reads a chainId -> native-units-per-USD rate table from a JSON
// sidecar file (§9(b), config.CommissionConfig.OracleTablePath). The file is
// expected to be rewritten out of band by whatever live price feed an
// operator wires up; LoadTable only knows how to parse its format, not how
// to refresh it.
//
// File format:
//
//	{"1": "322580645161290322", "8453": "322580645161290322"}
//
// keys are decimal chain ids, values are exact base-unit-per-USD amounts
// (wei per dollar, satoshi per dollar, ...) as decimal strings — never JSON
// numbers, which would force the table through a float64 and lose precision
// on the largest chains' native units (§4.5).
func LoadTable(path string) (map[uint64]domain.Amount, error) {
	if path == "" {
		return map[uint64]domain.Amount{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read table %s: %w", path, err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("oracle: parse table %s: %w", path, err)
	}
	table := make(map[uint64]domain.Amount, len(entries))
	for chainIDStr, amountStr := range entries {
		chainID, err := strconv.ParseUint(chainIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("oracle: table %s: invalid chain id %q: %w", path, chainIDStr, err)
		}
		amount, err := domain.ParseAmount(amountStr)
		if err != nil {
			return nil, fmt.Errorf("oracle: table %s: invalid rate for chain %s: %w", path, chainIDStr, err)
		}
		table[chainID] = amount
	}
	return table, nil
}
