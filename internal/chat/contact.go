package chat

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Handle is an opaque, process-unique identifier for a Contact. Handles are
// allocated once at creation and never reused while the process runs,
// avoiding the use-after-delete hazards of positional-index access (see
// design note on stable identity).
type Handle uint64

// Identity names a node: its onion-id and listening port. Identity
// uniquely names a node and, once a Contact is identified, is frozen.
type Identity struct {
	OnionID string
	Port    uint16
}

// handleAllocator hands out unique, monotonically increasing Handles. A
// simple atomic counter realizes the "opaque stable id (generation
// counter)" design note directly, with no possibility of collision or
// reuse for the lifetime of the process.
type handleAllocator struct {
	next atomic.Uint64
}

func (a *handleAllocator) allocate() Handle {
	return Handle(a.next.Add(1))
}

// Contact is a record describing one connected peer.
type Contact struct {
	Handle     Handle
	Stream     io.ReadWriteCloser
	Identity   Identity
	Nickname   string
	Accepted   bool
	Identified bool
	State      State
}

// ContactList is an addressable collection of Contacts, guarded by one
// mutex. All structural mutations (add/remove/identity-set) and any scan
// that relies on a stable view take the lock for their full duration.
type ContactList struct {
	mu       sync.Mutex
	contacts map[Handle]*Contact
	byIdent  map[Identity]Handle
	handles  handleAllocator
	capacity int
}

// NewContactList creates an empty ContactList bounded to capacity entries.
// A capacity of 0 means unbounded.
func NewContactList(capacity int) *ContactList {
	return &ContactList{
		contacts: make(map[Handle]*Contact),
		byIdent:  make(map[Identity]Handle),
		capacity: capacity,
	}
}

// Add inserts a new Contact with an empty identity and returns its handle.
// Returns ErrCapacity if the list is full.
func (cl *ContactList) Add(stream io.ReadWriteCloser, accepted bool) (Handle, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.capacity > 0 && len(cl.contacts) >= cl.capacity {
		return 0, ErrCapacity
	}

	h := cl.handles.allocate()
	cl.contacts[h] = &Contact{
		Handle:   h,
		Stream:   stream,
		Accepted: accepted,
		State:    StateNew,
	}
	return h, nil
}

// Remove closes the contact's stream, if present, and deletes it from the
// list. Removing an already-absent handle is a no-op.
func (cl *ContactList) Remove(h Handle) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.removeLocked(h)
}

func (cl *ContactList) removeLocked(h Handle) error {
	c, ok := cl.contacts[h]
	if !ok {
		return nil
	}

	if c.Identified && cl.byIdent[c.Identity] == h {
		delete(cl.byIdent, c.Identity)
		for otherHandle, otherContact := range cl.contacts {
			if otherHandle != h && otherContact.Identified && otherContact.Identity == c.Identity {
				cl.byIdent[c.Identity] = otherHandle // a pruned duplicate's survivor
				break
			}
		}
	}
	delete(cl.contacts, h)

	if c.Stream != nil {
		if err := c.Stream.Close(); err != nil {
			return fmt.Errorf("close contact %d stream: %w", h, err)
		}
	}
	return nil
}

// Get returns the contact for handle h.
func (cl *ContactList) Get(h Handle) (Contact, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	c, ok := cl.contacts[h]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// FindByIdentity returns the handle of an identified contact with the given
// identity, if one exists.
func (cl *ContactList) FindByIdentity(id Identity) (Handle, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	h, ok := cl.byIdent[id]
	return h, ok
}

// Identify applies a claimed identity and nickname to a New contact,
// transitioning it into the byIdent index. The caller must have already
// decided (via the FSM) that this is the contact's first identification.
func (cl *ContactList) Identify(h Handle, id Identity, nickname string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	c, ok := cl.contacts[h]
	if !ok {
		return fmt.Errorf("identify %d: %w", h, ErrNotFound)
	}

	c.Identity = id
	c.Nickname = nickname
	c.Identified = true
	c.State = StateIdentified
	cl.byIdent[id] = h
	return nil
}

// UpdateNickname changes a contact's display nickname without touching its
// frozen identity.
func (cl *ContactList) UpdateNickname(h Handle, nickname string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	c, ok := cl.contacts[h]
	if !ok {
		return fmt.Errorf("update nickname %d: %w", h, ErrNotFound)
	}
	c.Nickname = nickname
	return nil
}

// CheckDuplicates scans for another identified contact sharing h's
// identity. Per the tie-break rule, the older (smaller-handle) entry is
// kept and the newer one reported for removal. Returns the handle to
// remove and true if a duplicate was found.
func (cl *ContactList) CheckDuplicates(h Handle) (Handle, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	c, ok := cl.contacts[h]
	if !ok || !c.Identified {
		return 0, false
	}

	for otherHandle, otherContact := range cl.contacts {
		if otherHandle == h || !otherContact.Identified || otherContact.Identity != c.Identity {
			continue
		}
		if otherHandle < h {
			return h, true // h is the newer entry; caller removes h
		}
		return otherHandle, true // otherHandle is newer; caller removes it
	}
	return 0, false
}

// Snapshot returns a point-in-time copy of every contact, for building the
// multiplexer's wait set or broadcasting without holding the lock across
// per-contact I/O.
func (cl *ContactList) Snapshot() []Contact {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	out := make([]Contact, 0, len(cl.contacts))
	for _, c := range cl.contacts {
		out = append(out, *c)
	}
	return out
}

// Len returns the current number of contacts.
func (cl *ContactList) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.contacts)
}

// CloseAll closes every contact's stream and empties the list. Used during
// engine shutdown.
func (cl *ContactList) CloseAll() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for h := range cl.contacts {
		_ = cl.removeLocked(h)
	}
}
