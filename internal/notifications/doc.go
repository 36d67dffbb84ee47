// Package notifications delivers push notifications for workflow milestones
// via ntfy. When no topic is configured the service is a silent noop so
// callers never need to branch on configuration.
package notifications
