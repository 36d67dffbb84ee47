// Package staleness tracks the upstream-edit invalidation marker: when a
// stage's input configuration changes after it has completed, every later
// stage's result stops being trustworthy until regenerated.
package staleness
