// Package props defines the node/value properties bitset shared by the
// value, node, treemgr, and snapshot packages.
package props

// Properties is a bitset of flags carried by nodes and values. Persistent
// is user-settable; Dummy and Detached are administrative and can never be
// set directly through the public write path (spec.md §3.1, §6).
type Properties uint8

const (
	// Persistent marks an entry as participating in serialization. User
	// settable on both nodes and values.
	Persistent Properties = 1 << iota
	// Dummy marks a placeholder entry kept alive only to anchor a
	// reference's path. Administrative; never user-settable.
	Dummy
	// Detached marks a value that has been permanently removed from the
	// tree. Administrative, terminal (spec.md I7).
	Detached
)

// UserMask is the set of flags a caller may pass to write operations.
const UserMask = Persistent

// AdminMask is the set of flags a caller may never set directly.
const AdminMask = Dummy | Detached

func (p Properties) Has(f Properties) bool { return p&f != 0 }

func (p Properties) IsPersistent() bool { return p.Has(Persistent) }
func (p Properties) IsDummy() bool      { return p.Has(Dummy) }
func (p Properties) IsDetached() bool   { return p.Has(Detached) }

func (p Properties) Set(f Properties) Properties   { return p | f }
func (p Properties) Clear(f Properties) Properties { return p &^ f }

// Apply computes (old &^ clear) | set, with set winning when a flag
// appears in both sets — the rule used throughout node/value mutation
// (spec.md §4.3 set, §4.4 set_properties_recursively).
func Apply(old, set, clear Properties) Properties {
	return (old &^ clear) | set
}

// ValidateUser rejects any flag outside UserMask, used at public write
// boundaries (spec.md §6 Argument errors).
func ValidateUser(p Properties) bool {
	return p&^UserMask == 0
}
