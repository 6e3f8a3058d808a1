package accounting

import "strings"

// Path is one link in an immutable reachability chain: a name component and
// a reference to the parent link, or nil for the root. Chains are
// value-constructed on each recursion step and share structure with their
// ancestors, per the data model's "Path chain" section.
type Path struct {
	name   string
	parent *Path
}

// String renders the full chain from root to this link, separated by "/".
func (p *Path) String() string {
	if p == nil {
		return "/"
	}
	var parts []string
	for cur := p; cur != nil; cur = cur.parent {
		parts = append([]string{cur.name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

// Name returns just this link's name component.
func (p *Path) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Parent returns the enclosing link, or nil if this is the root.
func (p *Path) Parent() *Path {
	if p == nil {
		return nil
	}
	return p.parent
}

// Arena is a bump allocator for Path links and their name strings, scoped to
// one volume walk. Chains are written once during recursive descent and
// never freed until the walk ends, so a single growable slice of Path
// structs (rather than one heap allocation per link) avoids most of the
// allocator traffic a naive recursive walk would otherwise generate.
type Arena struct {
	links []Path
}

// NewArena creates an empty arena. A nonzero capacity hint avoids the first
// few reallocations on deep trees; it need not be exact.
func NewArena(capacityHint int) *Arena {
	return &Arena{links: make([]Path, 0, capacityHint)}
}

// Child returns a new Path extending `parent` with `name`. The returned
// pointer remains valid for the lifetime of the Arena.
func (a *Arena) Child(parent *Path, name string) *Path {
	a.links = append(a.links, Path{name: name, parent: parent})
	return &a.links[len(a.links)-1]
}

// Root returns the arena's root path link (no parent, named `name`), suitable
// as the starting point for a walk rooted at a volume's top-level directory.
func (a *Arena) Root(name string) *Path {
	return a.Child(nil, name)
}
