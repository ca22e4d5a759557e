// Package mysql provides repositories backed by MySQL (with a JSONL-backed
// in-memory fallback) for persisting the agent's run history: what the
// reasoning service was asked, what it proposed, and how each step played
// out on chain.
package mysql
