// Package api exposes the operator-facing REST surface of the StakePilot
// daemon: submitting prompt triggers, browsing recorded runs, and probing
// health and metrics endpoints.
package api
