package raft

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ServerID identifies a server. Zero is never a valid id (spec.md §3).
type ServerID uint64

// Role controls whether a server replicates the log and counts toward
// quorum (spec.md §3, GLOSSARY).
type Role uint8

// Roles recognized by a Configuration.
const (
	RoleVoter Role = iota + 1
	RoleStandby
	RoleIdle
)

func (r Role) valid() bool {
	return r == RoleVoter || r == RoleStandby || r == RoleIdle
}

// Server describes one member of a Configuration.
type Server struct {
	ID      ServerID
	Address string
	Role    Role
}

const configWireVersion = 1

// Configuration is the mapping from ServerID to {address, role} described
// in spec.md §3/§4.1. It owns its own memory except while borrowed by an
// outgoing InstallSnapshot send (spec.md §5).
type Configuration struct {
	servers map[ServerID]*Server
}

// NewConfiguration creates an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{servers: make(map[ServerID]*Server)}
}

func (c *Configuration) init() {
	if c.servers == nil {
		c.servers = make(map[ServerID]*Server)
	}
}

// Close releases the configuration's memory. Present for symmetry with
// the init/close lifecycle spec.md §4.1 asks every component to expose;
// Go's GC makes this a no-op but keeping the call lets callers follow a
// uniform component lifecycle.
func (c *Configuration) Close() {
	c.servers = nil
}

// Add adds a server, failing with DuplicateID, DuplicateAddress or BadRole.
func (c *Configuration) Add(id ServerID, address string, role Role) error {
	c.init()

	if id == 0 {
		return newErr(ErrBadID, "server id must be non-zero")
	}
	if !role.valid() {
		return newErr(ErrBadRole, "unknown role %d", role)
	}
	if _, ok := c.servers[id]; ok {
		return newErr(ErrDuplicateID, "server %d already present", id)
	}
	for _, s := range c.servers {
		if s.Address == address {
			return newErr(ErrDuplicateAddress, "address %s already present", address)
		}
	}

	c.servers[id] = &Server{ID: id, Address: address, Role: role}
	return nil
}

// Remove removes a server by id. It is not an error to remove an id that
// isn't present; callers needing existence semantics should call Get first.
func (c *Configuration) Remove(id ServerID) {
	delete(c.servers, id)
}

// Get returns the server for id, and whether it was found.
func (c *Configuration) Get(id ServerID) (Server, bool) {
	s, ok := c.servers[id]
	if !ok {
		return Server{}, false
	}
	return *s, true
}

// Servers returns a snapshot slice of all members, in stable ID order,
// used by encode and by quorum arithmetic elsewhere in the engine.
func (c *Configuration) Servers() []Server {
	out := make([]Server, 0, len(c.servers))
	for _, s := range c.servers {
		out = append(out, *s)
	}
	// simple insertion sort by ID - configurations are small (single
	// digits to low hundreds of servers), so this avoids pulling in
	// sort for a handful of elements on every call.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// VoterCount returns the number of Voter-role members.
func (c *Configuration) VoterCount() int {
	n := 0
	for _, s := range c.servers {
		if s.Role == RoleVoter {
			n++
		}
	}
	return n
}

// Quorum returns floor(V/2)+1 where V is the voter count (spec.md §4.1).
func (c *Configuration) Quorum() int {
	return c.VoterCount()/2 + 1
}

// Clone returns a deep copy, used when we need to mutate a working copy
// without disturbing the committed configuration (e.g. while staging a
// pending ConfigChange).
func (c *Configuration) Clone() *Configuration {
	clone := NewConfiguration()
	for _, s := range c.Servers() {
		clone.servers[s.ID] = &Server{ID: s.ID, Address: s.Address, Role: s.Role}
	}
	return clone
}

// Encode serializes the configuration using the stable binary layout from
// spec.md §6: version byte, server count varint, then per server
// {id u64, role u8, address null-terminated string}.
func (c *Configuration) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(configWireVersion)

	servers := c.Servers()
	writeUvarint(&buf, uint64(len(servers)))
	for _, s := range servers {
		var idBuf [8]byte
		binary.BigEndian.PutUint64(idBuf[:], uint64(s.ID))
		buf.Write(idBuf[:])
		buf.WriteByte(byte(s.Role))
		buf.WriteString(s.Address)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeConfiguration parses the layout written by Encode, returning a malformed-
// message error (ErrMalformed) on any inconsistency.
func DecodeConfiguration(data []byte) (*Configuration, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, newErr(ErrMalformed, "missing version byte")
	}
	if version != configWireVersion {
		return nil, newErr(ErrMalformed, "unsupported configuration wire version %d", version)
	}

	count, err := readUvarint(r)
	if err != nil {
		return nil, newErr(ErrMalformed, "bad server count: %s", err)
	}

	cfg := NewConfiguration()
	for i := uint64(0); i < count; i++ {
		var idBuf [8]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return nil, newErr(ErrMalformed, "truncated server id: %s", err)
		}
		id := ServerID(binary.BigEndian.Uint64(idBuf[:]))

		roleByte, err := r.ReadByte()
		if err != nil {
			return nil, newErr(ErrMalformed, "truncated role byte: %s", err)
		}
		role := Role(roleByte)

		address, err := readCString(r)
		if err != nil {
			return nil, newErr(ErrMalformed, "truncated address: %s", err)
		}

		if err := cfg.Add(id, address, role); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readCString(r *bytes.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}
