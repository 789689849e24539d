package app

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownConn   = errors.New("unknown connection")
	ErrNotInRoom     = errors.New("not in room")
	ErrUnknownTarget = errors.New("unknown target")
)

type connEntry struct {
	Participant core.Participant
	Member      domain.Member
	Room        domain.RoomCode
}

type roomState struct {
	members []core.ConnID // join order
}

// Admission describes a successful join as seen under the registry lock.
type Admission struct {
	Room   domain.RoomCode
	Joiner core.Participant
	// Existing are the members present before the joiner, in join order.
	Existing []core.Participant
	// Rejoin is set when the joiner already was a member of Room.
	Rejoin bool
	// Previous is the room implicitly left by this join, if any.
	Previous domain.RoomCode
}

// Snapshot returns the connection ids of the other members at admission.
func (a Admission) Snapshot() []core.ConnID {
	out := make([]core.ConnID, 0, len(a.Existing))
	for _, p := range a.Existing {
		out = append(out, p.ID())
	}
	return out
}

type RoomInfo struct {
	Code        domain.RoomCode `json:"room_code"`
	MemberCount int             `json:"member_count"`
}

// Registry is the single owner of live connections and room membership.
// All mutations are serialized by one lock; fan-out under the lock only
// enqueues frames, it never blocks on the network.
type Registry struct {
	mu      sync.RWMutex
	conns   map[core.ConnID]*connEntry
	rooms   map[domain.RoomCode]*roomState
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		conns:   make(map[core.ConnID]*connEntry),
		rooms:   make(map[domain.RoomCode]*roomState),
		metrics: m,
	}
}

// Bind registers a live connection that is not yet in any room.
func (r *Registry) Bind(p core.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[p.ID()] = &connEntry{Participant: p}
	r.metrics.ConnectionOpened()
	log.Info().Str("module", "app.registry").Str("conn", p.ID().String()).Msg("bound connection")
}

// Unbind forgets a connection. Membership, if still present, is dropped silently.
func (r *Registry) Unbind(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return
	}
	if e.Room != "" {
		r.leaveLocked(id, e)
	}
	delete(r.conns, id)
	r.metrics.ConnectionClosed()
	log.Info().Str("module", "app.registry").Str("conn", id.String()).Msg("unbind connection")
}

func (r *Registry) Participant(id core.ConnID) (core.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Participant, true
	}
	return nil, false
}

// Join adds id to code. Joining the current room again is a no-op that
// still reports the other members; joining another room leaves the old one
// first. admit runs under the registry lock, so whatever it enqueues is
// ordered before any envelope routed after Join returns.
func (r *Registry) Join(
	code domain.RoomCode,
	id core.ConnID,
	member domain.Member,
	admit func(Admission),
) (Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return Admission{}, ErrUnknownConn
	}
	e.Member = member

	if e.Room == code {
		a := Admission{Room: code, Joiner: e.Participant, Existing: r.othersLocked(code, id), Rejoin: true}
		if admit != nil {
			admit(a)
		}
		return a, nil
	}

	var prev domain.RoomCode
	if e.Room != "" {
		prev = r.leaveLocked(id, e)
	}

	rs, ok := r.rooms[code]
	if !ok {
		rs = &roomState{}
		r.rooms[code] = rs
		r.metrics.RoomOpened()
		log.Info().Str("module", "app.registry").Str("room", code.String()).Msg("room created")
	}
	existing := r.othersLocked(code, id)
	rs.members = append(rs.members, id)
	e.Room = code

	a := Admission{Room: code, Joiner: e.Participant, Existing: existing, Previous: prev}
	if admit != nil {
		admit(a)
	}
	log.Info().
		Str("module", "app.registry").
		Str("conn", id.String()).
		Str("room", code.String()).
		Str("identity", member.Identity.String()).
		Int("members", len(rs.members)).
		Msg("joined room")
	return a, nil
}

// Leave removes id from whatever room it occupies. It does not notify anyone.
func (r *Registry) Leave(id core.ConnID) (domain.RoomCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.Room == "" {
		return "", false
	}
	return r.leaveLocked(id, e), true
}

func (r *Registry) leaveLocked(id core.ConnID, e *connEntry) domain.RoomCode {
	code := e.Room
	e.Room = ""
	rs, ok := r.rooms[code]
	if !ok {
		return code
	}
	if i := slices.Index(rs.members, id); i >= 0 {
		rs.members = slices.Delete(rs.members, i, i+1)
	}
	log.Info().Str("module", "app.registry").Str("conn", id.String()).Str("room", code.String()).Msg("left room")
	if len(rs.members) == 0 {
		delete(r.rooms, code)
		r.metrics.RoomClosed()
		log.Info().Str("module", "app.registry").Str("room", code.String()).Msg("room evicted")
	}
	return code
}

func (r *Registry) othersLocked(code domain.RoomCode, self core.ConnID) []core.Participant {
	rs, ok := r.rooms[code]
	if !ok {
		return []core.Participant{}
	}
	out := make([]core.Participant, 0, len(rs.members))
	for _, mid := range rs.members {
		if mid == self {
			continue
		}
		if e, ok := r.conns[mid]; ok {
			out = append(out, e.Participant)
		}
	}
	return out
}

// RoomOf returns the room and member meta of id.
func (r *Registry) RoomOf(id core.ConnID) (domain.RoomCode, domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.Room == "" {
		return "", domain.Member{}, false
	}
	return e.Room, e.Member, true
}

// Members returns the members of code in join order.
func (r *Registry) Members(code domain.RoomCode) []core.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.othersLocked(code, "")
}

// Peer resolves target for an envelope sent by sender. Both must be live and
// share a room.
func (r *Registry) Peer(sender, target core.ConnID) (core.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.conns[sender]
	if !ok || s.Room == "" {
		return nil, ErrNotInRoom
	}
	t, ok := r.conns[target]
	if !ok || t.Room != s.Room || target == sender {
		return nil, ErrUnknownTarget
	}
	return t.Participant, nil
}

func (r *Registry) InUse(code domain.RoomCode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[code]
	return ok
}

func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for code, rs := range r.rooms {
		out = append(out, RoomInfo{Code: code, MemberCount: len(rs.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
