// Package id provides a 128-bit, lexicographically sortable identifier used
// as the change event id.
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence], so
// byte-wise comparison preserves generation order. A Generator pins to the
// last seen millisecond if the clock regresses and waits for the next
// millisecond if the sequence would overflow.
//
//	g := id.NewGenerator()
//	evID := g.Next()
//	s := evID.String() // 32 hex chars, also the JSON form
package id
