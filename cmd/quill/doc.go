// Command quill is the CLI for the guided content production workflow:
// creating workflow instances, triggering and regenerating stages, and
// editing generated content.
package main
