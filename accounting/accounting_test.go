package accounting

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	classFile Class = iota + 1
	classDir
)

func canUpgrade(old, candidate Class) bool {
	return old == Empty
}

func className(c Class) string {
	switch c {
	case classFile:
		return "file"
	case classDir:
		return "dir"
	default:
		return "empty"
	}
}

func TestVector_UseUnit_NoConflictOnFirstClaim(t *testing.T) {
	w := NewWarnings()
	v := NewVector(8, canUpgrade, className, w)
	arena := NewArena(4)
	root := arena.Root("root")

	v.UseUnit(3, classFile, root)
	require.Equal(t, classFile, v.ClassOf(3))
	require.Equal(t, 0, w.HardCount())
}

func TestVector_UseUnit_ConflictEmitsHardWarning(t *testing.T) {
	w := NewWarnings()
	v := NewVector(8, canUpgrade, className, w)
	arena := NewArena(4)
	a := arena.Child(nil, "a.txt")
	b := arena.Child(nil, "b.txt")

	v.UseUnit(3, classFile, a)
	v.UseUnit(3, classDir, b)

	require.Equal(t, classFile, v.ClassOf(3), "conflicting claim must not overwrite the original")
	require.Equal(t, 1, w.HardCount())
	require.False(t, w.Clean())
}

func TestVector_Sweep_VisitsOnlyEmptyUnits(t *testing.T) {
	w := NewWarnings()
	v := NewVector(5, canUpgrade, className, w)
	arena := NewArena(2)
	v.UseUnit(1, classFile, arena.Root("x"))
	v.UseUnit(3, classFile, arena.Root("y"))

	var empties []int
	v.Sweep(func(n int) { empties = append(empties, n) })
	require.Equal(t, []int{0, 2, 4}, empties)
}

func TestPath_StringRendersFullChain(t *testing.T) {
	arena := NewArena(4)
	root := arena.Root("vol")
	dir := arena.Child(root, "docs")
	file := arena.Child(dir, "report.txt")

	require.Equal(t, "/vol/docs/report.txt", file.String())
	require.Equal(t, "/vol", root.String())
}

func TestSeenSet_HaveSeen_DetectsRevisit(t *testing.T) {
	s := NewSeenSet(16)
	const tagFNode SeenTag = 1

	require.False(t, s.HaveSeen(5, 1, tagFNode), "first visit must not report a cycle")
	require.True(t, s.HaveSeen(5, 1, tagFNode), "second visit to the same unit must report a cycle")
}

func TestSeenSet_TagsAreIndependent(t *testing.T) {
	s := NewSeenSet(16)
	const tagFNode SeenTag = 1
	const tagDirblk SeenTag = 2

	require.False(t, s.HaveSeen(5, 1, tagFNode))
	require.False(t, s.HaveSeen(5, 1, tagDirblk), "a different structural tag must have its own cycle space")
}

func TestShadowBitmap_CrossCheck_WarnsOnlyWhenReady(t *testing.T) {
	w := NewWarnings()
	shadow := NewShadowBitmap(8)

	shadow.CrossCheck(3, w)
	require.Equal(t, 0, w.HardCount(), "cross-check before Ready must be a no-op")

	shadow.SetReady()
	shadow.CrossCheck(3, w)
	require.Equal(t, 1, w.HardCount(), "unit used but not marked allocated must warn once ready")

	shadow.MarkAllocated(4)
	shadow.CrossCheck(4, w)
	require.Equal(t, 1, w.HardCount(), "an allocated unit must not add another warning")
}

func TestWarnings_CountsBySeverity(t *testing.T) {
	w := NewWarnings()
	w.Add(SeverityHard, "bad pointer")
	w.Add(SeveritySoft, "reserved bits set")
	w.Add(SeverityHard, "cycle detected")

	require.Equal(t, 2, w.HardCount())
	require.Equal(t, 1, w.SoftCount())
	require.Len(t, w.All(), 3)
	require.False(t, w.Clean())
}
