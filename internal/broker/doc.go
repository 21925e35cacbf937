// Package broker carries live recording events over Redis pub/sub
// and implements the realtime channel manager contract.
package broker
