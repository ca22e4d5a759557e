// Package agent contains the core orchestrator that turns reasoning-service
// recommendations into signed, submitted, and confirmed on-chain transactions.
// It owns the operation intake boundary, amount resolution against live
// balances, the per-transaction lifecycle state machine, and the sequential
// step executor that refreshes account state between steps.
package agent
