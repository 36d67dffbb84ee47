// Package pipeline defines the stage catalog, the stage run state machine,
// and the lifecycle tracker that enforces a single in-flight run per stage.
package pipeline
