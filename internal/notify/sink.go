package notify

import "context"

// Sink is implemented by transports to receive encoded events. Send and
// Flush are only ever called from the subscriber's writer goroutine.
type Sink interface {
	Send(payload []byte) error
	Flush() error
	// Context is cancelled when the remote side goes away.
	Context() context.Context
}

// FuncSink adapts plain functions into a Sink. Nil Flush is a no-op.
type FuncSink struct {
	Ctx       context.Context
	SendFunc  func(payload []byte) error
	FlushFunc func() error
}

func (f FuncSink) Send(p []byte) error { return f.SendFunc(p) }

func (f FuncSink) Flush() error {
	if f.FlushFunc == nil {
		return nil
	}
	return f.FlushFunc()
}

func (f FuncSink) Context() context.Context {
	if f.Ctx == nil {
		return context.Background()
	}
	return f.Ctx
}
