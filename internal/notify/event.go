package notify

import (
	"bytes"
	"encoding/json"

	"github.com/rzbill/kvdb/pkg/id"
)

// Op names the mutation that produced an event.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Event describes one applied mutation. Value is nil for a delete of a key
// that held nothing.
type Event struct {
	ID    id.ID
	Key   string
	Value *string
	Op    Op
	TsMs  int64
}

// Encode renders the wire form sent to every subscriber:
//
//	{"<key>": <value or null>, "op": "put"|"delete", "id": "<hex>", "ts_ms": <ms>}
//
// The record key is the first member so clients written against the bare
// {key: value, op} shape keep working.
func (e Event) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	k, err := json.Marshal(e.Key)
	if err != nil {
		return nil, err
	}
	buf.Write(k)
	buf.WriteByte(':')
	if e.Value == nil {
		buf.WriteString("null")
	} else {
		v, err := json.Marshal(*e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteString(`,"op":`)
	op, _ := json.Marshal(string(e.Op))
	buf.Write(op)
	buf.WriteString(`,"id":"`)
	buf.WriteString(e.ID.String())
	buf.WriteString(`","ts_ms":`)
	ts, _ := json.Marshal(e.TsMs)
	buf.Write(ts)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
