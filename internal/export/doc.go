// Package export renders the recording catalog and its aggregate
// statistics as a spreadsheet for download.
package export
