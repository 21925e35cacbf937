// Package pipeline drives recordings from upload to completed
// analysis. It holds the HTTP clients for the external transcription
// service and the hosted analysis functions, plus the worker pool that
// claims pending recordings and walks them through the lifecycle.
package pipeline
