// Package services defines the error taxonomy shared by the workflow engine
// and its external service clients.
package services
