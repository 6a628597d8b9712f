package statemachine

import "github.com/ioi-network/kernel/internal/ktypes"

// updateStatusAndRecent implements commit_block step 12: "Update
// in-memory status and the recent-blocks ring (bounded size)."
func (sm *StateMachine) updateStatusAndRecent(h ktypes.Height, timestamp uint64, totalTxDelta uint64, blockHash ktypes.Hash) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.committedHead = h
	sm.status = ktypes.Status{
		Height:    h,
		Timestamp: timestamp,
		TotalTx:   sm.status.TotalTx + totalTxDelta,
	}

	sm.recentBlocks = append(sm.recentBlocks, blockHash)
	if over := len(sm.recentBlocks) - sm.recentCap; over > 0 {
		sm.recentBlocks = sm.recentBlocks[over:]
	}
}
