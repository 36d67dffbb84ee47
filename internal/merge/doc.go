// Package merge reconciles a freshly generated stage output with the user
// edits recorded against earlier runs, so regeneration never loses manual work.
package merge
