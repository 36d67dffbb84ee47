package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorkflowID is the standardized structured logging key for workflow instance identifiers.
	FieldWorkflowID = "workflow_id"
	// FieldStage is the standardized structured logging key for pipeline stage keys.
	FieldStage = "stage"
	// FieldRunID is the standardized structured logging key for stage run identifiers.
	FieldRunID = "run_id"
	// FieldJobRef is the standardized structured logging key for generation job references.
	FieldJobRef = "job_ref"
	// FieldSection is the standardized structured logging key for outline section identifiers.
	FieldSection = "section"
	// FieldItemID is the standardized structured logging key for outline item identifiers.
	FieldItemID = "item_id"
	// FieldEventType tags log records with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for a failure.
	FieldErrorHint = "error_hint"
)
