package cache

import "strings"

// Kind is the kind of a reported change. Renames are reported as a delete of the
// old path followed by a create of the new path.
type Kind int

const (
	DirectoryCreated Kind = iota
	DirectoryDeleted
	FileCreated
	FileChanged
	FileDeleted
)

func (k Kind) String() string {
	switch k {
	case DirectoryCreated:
		return "DirectoryCreated"
	case DirectoryDeleted:
		return "DirectoryDeleted"
	case FileCreated:
		return "FileCreated"
	case FileChanged:
		return "FileChanged"
	case FileDeleted:
		return "FileDeleted"
	default:
		return "Unknown"
	}
}

// IsDirectory reports whether the kind applies to directories.
func (k Kind) IsDirectory() bool {
	return k == DirectoryCreated || k == DirectoryDeleted
}

// Change is a single detected change under the watched root.
type Change struct {
	Kind Kind
	Path string
}

func (c Change) String() string {
	return c.Kind.String() + " " + c.Path
}

// Handler receives accepted changes.
type Handler interface {
	HandleChange(Change)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(Change)

func (f HandlerFunc) HandleChange(c Change) {
	f(c)
}

// ErrorHandler receives non-fatal errors together with the path they relate to.
type ErrorHandler func(path string, err error)

// KindSet is a bitmask of change kinds.
type KindSet uint8

const AllKinds KindSet = 1<<DirectoryCreated | 1<<DirectoryDeleted | 1<<FileCreated | 1<<FileChanged | 1<<FileDeleted

// Kinds builds a set from the given kinds.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

func (s KindSet) Has(k Kind) bool {
	return s&(1<<k) != 0
}

// ParseKind accepts the kind names as printed by Kind.String, case-insensitively.
func ParseKind(name string) (Kind, bool) {
	for k := DirectoryCreated; k <= FileDeleted; k++ {
		if strings.EqualFold(k.String(), name) {
			return k, true
		}
	}
	return 0, false
}

// Filter returns a Handler that forwards only the kinds in set to h.
func Filter(h Handler, set KindSet) Handler {
	if h == nil {
		return nil
	}
	return HandlerFunc(func(c Change) {
		if set.Has(c.Kind) {
			h.HandleChange(c)
		}
	})
}

func emit(h Handler, c Change) {
	if h != nil {
		h.HandleChange(c)
	}
}
