// Package broadcast implements the process-wide fan-out channel every connection publishes to.
//
// Channel is a fixed-size ring shared by all subscribers. Publish never blocks; a subscriber
// that falls more than Capacity messages behind gets a LaggedError with the number of lost
// messages and then continues from the oldest message still in the ring.
package broadcast
