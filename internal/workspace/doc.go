// Package workspace manages the derived output tree of a run: it creates the output
// and thumbnail directories, holds the single-run lock, and writes files atomically so
// a reader never observes a partially encoded image.
package workspace
