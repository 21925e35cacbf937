// Package recording persists call recordings and their pipeline
// lifecycle in SQLite. Status transitions are validated against a
// fixed graph so a recording can never skip or repeat a stage.
package recording
