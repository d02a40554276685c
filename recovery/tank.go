package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sweepTankBalances checks every configured chain's tank wallet balance
// and writes a deduplicated LOW_TANK_BALANCE recovery log entry when it
// drops below the configured threshold (§4.6 "When the tank's balance on
// any chain drops below a configured threshold, the recovery log records
// a LOW_TANK_BALANCE entry; no automatic top-up is attempted"). The
// 1-hour dedup cooldown lives in tank.Manager's memory
// (ShouldLogLowBalance) and is not persisted.
func (m *Manager) sweepTankBalances(ctx context.Context, now time.Time) {
	for _, chainID := range m.chains.ChainIDs() {
		low, balance, err := m.tank.CheckLowBalance(ctx, chainID)
		if err != nil {
			m.log.Debugf("recovery: sweepTankBalances: chain %d: %v", chainID, err)
			continue
		}
		if !low {
			continue
		}
		if !m.tank.ShouldLogLowBalance(chainID, now) {
			continue
		}
		entry := fmt.Sprintf("tank balance %s below threshold on chain %d", balance.String(), chainID)
		m.logRecovery(ctx, "LOW_TANK_BALANCE", uuid.Nil, chainID, "alert", true, nil, map[string]string{
			"balance": balance.String(),
		})
		m.log.Warnf("recovery: %s", entry)
	}
}
