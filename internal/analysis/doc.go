// Package analysis turns call transcripts into sales insights:
// a sentiment timeline with volatility, topic mentions, coverage of
// the BANT, MEDDIC, and SPICED methodologies, and a weighted coaching
// scorecard.
package analysis
