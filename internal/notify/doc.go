// Package notify is kvdb's subscriber registry. Transports register a Sink
// per connected client; the mutation pipeline broadcasts one Event per
// applied change. Delivery is best effort: a slow or broken subscriber is
// dropped without affecting writers or other subscribers.
//
// Events carry no history. A subscriber sees only changes applied after it
// registered.
package notify
