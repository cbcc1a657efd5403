// Package domain defines the core domain types and interfaces.
//
// Message is the unit of chat traffic; Publisher is the contract the connection
// handlers publish through, satisfied by the broadcast channel and the Redis mirror.
// Only types and contracts live here; nothing in this package performs I/O.
package domain
