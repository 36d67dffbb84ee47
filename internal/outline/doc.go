// Package outline models the structured content a stage produces: sections of
// editable items, plus the append-only record of user edits that the merge
// engine reapplies across regenerations.
package outline
