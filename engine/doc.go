// Package engine contains the conversational core: the Turn type normalizes a
// single raw model stream into typed events, and the Orchestrator drives the
// multi-turn loop around it (tool scheduling, history compression,
// next-speaker inference, bounded turn budget).
package engine
