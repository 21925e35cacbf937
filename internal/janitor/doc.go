// Package janitor runs the scheduled maintenance jobs that keep the
// recording store healthy: requeueing work abandoned by crashed or
// interrupted workers, and purging completed recordings after their
// retention window.
package janitor
