// Package workflow composes the store, run tracker, merge engine, staleness
// manager, and generation worker into the guided production workflow: stages
// run one at a time per slot, user edits survive regeneration, and upstream
// changes invalidate downstream results.
package workflow
