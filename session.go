package multidb

import (
	"github.com/vmihailenco/msgpack/v5"
)

// StickySession records, for one logical session, which tables were written
// recently and until when reads of them must go to the primary. Timestamps
// are unix seconds.
//
// A StickySession is not safe for concurrent use.
type StickySession struct {
	// Tables maps a table name to the expiry of its stickiness.
	Tables map[string]int64 `msgpack:"tables"`
	// Until is the latest expiry of any table. Once it has passed the whole
	// session is treated as empty.
	Until int64 `msgpack:"until"`
}

func NewStickySession() *StickySession {
	return &StickySession{Tables: make(map[string]int64)}
}

// Reset forgets every sticky table.
func (s *StickySession) Reset() {
	s.Tables = make(map[string]int64)
	s.Until = 0
}

// IsEmpty reports whether the session has never been marked or was reset.
func (s *StickySession) IsEmpty() bool {
	return s.Until == 0 && len(s.Tables) == 0
}

// MarshalBinary encodes the session with msgpack, for stores that keep raw
// bytes.
func (s *StickySession) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(s)
}

// UnmarshalBinary decodes a session encoded with MarshalBinary.
func (s *StickySession) UnmarshalBinary(data []byte) error {
	var decoded StickySession
	if err := msgpack.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Tables == nil {
		decoded.Tables = make(map[string]int64)
	}
	*s = decoded
	return nil
}
