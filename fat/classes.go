package fat

import "github.com/dargueta/fstwalk/accounting"

// Usage classes for FAT clusters, per §3's "FAT classes: {empty, file,
// dir}". Empty is accounting.Empty, shared across walkers.
const (
	ClassFile accounting.Class = iota + 1
	ClassDir
)

// ClassName renders a Class for warning messages.
func ClassName(c accounting.Class) string {
	switch c {
	case accounting.Empty:
		return "empty"
	case ClassFile:
		return "file"
	case ClassDir:
		return "dir"
	default:
		return "unknown"
	}
}

// CanUpgrade implements the FAT walker's upgrade rule: the only legal
// transition is Empty -> anything. Reclassifying an already-claimed
// cluster (by any file or directory, including itself through a cyclic
// chain) is always a conflict.
func CanUpgrade(old, candidate accounting.Class) bool {
	return old == accounting.Empty
}
