// Package ids issues the process-local identifiers used to correlate
// connections and streams on the caller side. They are never sent on the wire
// and carry no meaning for the transport.
package ids

import (
    "strconv"

    "code.hybscloud.com/atomix"
)

// Role marks which side of a connection a record belongs to.
type Role uint8

const (
    RoleClient Role = iota + 1
    RoleServer
)

func (r Role) String() string {
    switch r {
    case RoleClient:
        return "client"
    case RoleServer:
        return "server"
    default:
        return "unknown"
    }
}

// ConnectionID identifies one connection for the lifetime of the process.
type ConnectionID uint64

func (id ConnectionID) String() string { return "conn-" + strconv.FormatUint(uint64(id), 10) }

// StreamID identifies one stream within its connection.
type StreamID uint64

func (id StreamID) String() string { return "stream-" + strconv.FormatUint(uint64(id), 10) }

// Generator hands out strictly increasing values starting at 1.
// The zero value is ready to use and safe for concurrent callers.
type Generator struct {
    n atomix.Uint64
}

// Next returns a value never returned before by this generator.
func (g *Generator) Next() uint64 { return g.n.Add(1) }

// Last returns the most recently issued value, or 0 if none was issued.
func (g *Generator) Last() uint64 { return g.n.Load() }

// StreamIDs issues stream ids for one connection.
type StreamIDs struct{ g Generator }

func (s *StreamIDs) Next() StreamID { return StreamID(s.g.Next()) }

var connections Generator

// NextConnectionID returns the next id from the process-wide connection generator.
func NextConnectionID() ConnectionID { return ConnectionID(connections.Next()) }
