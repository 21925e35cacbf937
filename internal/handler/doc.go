// Package handler implements the HTTP API of the analytics service.
// It coordinates recording intake, catalog queries, live event streams,
// and report downloads.
package handler
