// Package scribe talks to the external content generation service. The HTTP
// client drives the async job API (submit then poll); the direct backend
// resolves generations synchronously via chat completions.
//
// Both backends normalize responses to a single fixed envelope before any
// other package sees them, so quirks of a particular deployment's response
// nesting never leak into the workflow engine.
package scribe
