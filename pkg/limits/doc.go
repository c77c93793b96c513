// Package limits enforces per-project fuel and memory quotas shared by
// every worker that project owns, refreshed on a ticker the way the
// teacher's reconciler drives periodic reconciliation.
package limits
