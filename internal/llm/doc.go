// Package llm contains adapters for invoking the reasoning service that
// proposes rebalancing operations. It abstracts away provider-specific APIs
// so the agent core only ever sees an instruction/message pair going in and
// free-form text coming out.
package llm
