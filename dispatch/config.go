// Package dispatch implements the action dispatcher (§4.7): it selects a
// walker based on a volume's magic, parameterizes it from a single
// explicit Config, and drives one of the command surface's verbs to
// completion. Per design note 9 ("Global configuration"), nothing in this
// package or the walkers it drives reads process-wide state; cmd/fstwalk
// is the only place a Config gets built, from parsed CLI flags.
package dispatch

import "github.com/dargueta/fstwalk/blockio"

// Action identifies which of the command surface's verbs a Config drives.
// Grounded on _examples/original_source/fst.c's opt_* globals, reshaped
// into one closed enum instead of a dozen independent booleans.
type Action int

const (
	// ActionInfo describes the volume's structures without enforcing
	// invariants as hard failures beyond what the walkers always check.
	ActionInfo Action = iota
	// ActionCheck performs a full consistency walk; its exit status is the
	// one the command surface documents (0/1/2).
	ActionCheck
	// ActionSave captures a snapshot of every sector the walk reads, per
	// §4.3.
	ActionSave
	// ActionCRC produces a crc sidecar of every sector read by the same
	// full structural walk ActionSave performs.
	ActionCRC
	// ActionDiff compares two block sources sector by sector using
	// Source.Checksum.
	ActionDiff
	// ActionRestore writes sectors recorded in a snapshot back onto a live
	// device or another snapshot, the inverse of ActionSave.
	ActionRestore
	// ActionDir formats a single directory's entries instead of recursing
	// further (§4.7 "a `dir` walk formats DIRENTs instead of recursing
	// further").
	ActionDir
	// ActionCopy streams one file's content to Target until its declared
	// size is reached.
	ActionCopy
	// ActionFind walks until Path is located, then stops (§4.7 "a `find`
	// walk terminates at the requested path with a success exit").
	ActionFind
	// ActionWhere is ActionFind's presentation: report which unit Path
	// resolves to.
	ActionWhere
	// ActionWhat answers the inverse question: which path (if any) claims
	// sector/cluster Unit, per the accounting substrate's reachability
	// vector.
	ActionWhat
	// ActionRead dumps the raw content of a single sector/cluster.
	ActionRead
	// ActionWrite overwrites a single sector, the narrow sector-level
	// overwrite primitive §1 allows as the one exception to "no repair".
	ActionWrite
)

// ForcedKind lets the caller skip magic-based detection, per the command
// surface's "force FAT or HPFS" global switch.
type ForcedKind int

const (
	ForceNone ForcedKind = iota
	ForceFAT
	ForceHPFS
)

// Config is the explicit, immutable-by-convention configuration a Dispatch
// call is parameterized by. One Config is constructed per invocation; the
// walkers themselves remain pure functions of it, per design note 9.
type Config struct {
	Action Action

	// Source names the primary block source: a drive-letter device
	// specifier or a snapshot/crc-sidecar file path.
	Source string
	// Target names a second path, meaning depends on Action: the
	// destination of a save/crc capture, the second source of a diff, the
	// destination file of a copy, or the snapshot/device a
	// restore writes onto.
	Target string
	// Path names a file-system path for Find/Where/Dir/Copy actions.
	Path string
	// Unit is the sector (HPFS) or cluster (FAT) number for What/Read/Write
	// actions.
	Unit uint32
	// WriteData is the replacement sector content for ActionWrite. It must
	// be exactly blockio.SectorSize bytes.
	WriteData []byte

	Force ForcedKind

	// WriteEnable mirrors the command surface's write-enable switch: it
	// must be set for any write-capable action against a device.
	WriteEnable bool
	// IgnoreLockFailure mirrors the command surface's ignore-lock-failure
	// switch. Dispatch does not consult it: an exclusive device lock that
	// cannot be acquired always ends the run with an error.
	IgnoreLockFailure bool
	// HexFormat mirrors the "hex-format-sector-numbers" global switch;
	// Dispatch itself never formats output (that's cmd/fstwalk's job, which
	// reads the flag from the Config directly).
	HexFormat bool

	// Pedantic enables the FAT walker's check that an EA block's recorded
	// name still matches the file's current name (Open Question (b)). The
	// HPFS walker does not consult it.
	Pedantic bool
	// Frag requests the free-run-length fragmentation histogram (HPFS
	// only; §9 "frag" supplemented feature).
	Frag bool
	// Summary requests a terse tally instead of per-object detail.
	Summary bool
}

// resolveAllowedKinds narrows which blockio.Kind Open should accept for the
// primary source, based on the requested action. A `crc` action only ever
// reads from a device or snapshot (never a crc sidecar, which carries no
// content to checksum); a `restore` action's primary source must be a
// snapshot.
func (c Config) resolveAllowedKinds() blockio.KindSet {
	switch c.Action {
	case ActionRestore:
		return blockio.NewKindSet(blockio.KindSnapshot)
	case ActionCRC, ActionSave:
		return blockio.NewKindSet(blockio.KindDevice, blockio.KindSnapshot)
	default:
		return blockio.AllKinds
	}
}
