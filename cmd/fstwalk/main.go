package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/fstwalk/dispatch"
	diskoerrors "github.com/dargueta/fstwalk/errors"
	"github.com/dargueta/fstwalk/fat"
	"github.com/dargueta/fstwalk/hpfs"
)

// main builds a cli.App the same way dargueta-disko/cmd/main.go does: one
// command per verb from §6's command surface, each translating its flags
// and positional args into a single dispatch.Config and printing whatever
// dispatch.Report comes back. This file is the only place in the module
// allowed to call fmt.Print*; everything else returns data.
func main() {
	app := &cli.App{
		Name:  "fstwalk",
		Usage: "Inspect, capture, and restore FAT/VFAT and HPFS volumes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "write-enable", Usage: "allow write/restore actions to modify their target"},
			&cli.BoolFlag{Name: "ignore-lock-failure", Usage: "accepted but not consulted: a failed device lock still ends the run"},
			&cli.BoolFlag{Name: "hex", Usage: "format sector/cluster numbers in hexadecimal"},
			&cli.BoolFlag{Name: "pedantic", Usage: "enable the stricter EA-name/file-name cross-check"},
			&cli.BoolFlag{Name: "frag", Usage: "report the free-run fragmentation histogram (HPFS)"},
			&cli.BoolFlag{Name: "summary", Usage: "print a terse tally instead of per-object detail"},
			&cli.StringFlag{Name: "force", Usage: "skip detection: `fat` or `hpfs`"},
		},
		Commands: []*cli.Command{
			verbCommand("info", dispatch.ActionInfo, "describe a volume's structures", "SOURCE"),
			verbCommand("check", dispatch.ActionCheck, "run a full consistency walk", "SOURCE"),
			captureCommand("save", dispatch.ActionSave, "capture every sector a walk reads into a snapshot"),
			captureCommand("crc", dispatch.ActionCRC, "capture a crc sidecar of every sector a walk reads"),
			diffCommand(),
			restoreCommand(),
			dirCommand(),
			copyCommand(),
			findCommand("find", dispatch.ActionFind),
			findCommand("where", dispatch.ActionWhere),
			whatCommand(),
			readCommand(),
			writeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fstwalk: %s\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to §6's exit-code convention. Dispatch
// itself only ever returns nil or a fatal error; 1 vs 0 for a completed
// walk is carried in the Report instead and handled by the run* helpers
// before they return.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return 2
}

func baseConfig(c *cli.Context, action dispatch.Action) dispatch.Config {
	cfg := dispatch.Config{
		Action:            action,
		WriteEnable:       c.Bool("write-enable"),
		IgnoreLockFailure: c.Bool("ignore-lock-failure"),
		HexFormat:         c.Bool("hex"),
		Pedantic:          c.Bool("pedantic"),
		Frag:              c.Bool("frag"),
		Summary:           c.Bool("summary"),
	}
	switch c.String("force") {
	case "fat":
		cfg.Force = dispatch.ForceFAT
	case "hpfs":
		cfg.Force = dispatch.ForceHPFS
	}
	return cfg
}

func verbCommand(name string, action dispatch.Action, usage, argsUsage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return diskoerrors.ErrInvalidArgument.WithMessage(name + " requires exactly one source argument")
			}
			cfg := baseConfig(c, action)
			cfg.Source = c.Args().Get(0)
			return runAndPrint(cfg)
		},
	}
}

func captureCommand(name string, action dispatch.Action, usage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "SOURCE TARGET",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage(name + " requires SOURCE and TARGET")
			}
			cfg := baseConfig(c, action)
			cfg.Source = c.Args().Get(0)
			cfg.Target = c.Args().Get(1)
			return runAndPrint(cfg)
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "compare two block sources sector by sector",
		ArgsUsage: "SOURCE TARGET",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage("diff requires SOURCE and TARGET")
			}
			cfg := baseConfig(c, dispatch.ActionDiff)
			cfg.Source = c.Args().Get(0)
			cfg.Target = c.Args().Get(1)
			return runAndPrint(cfg)
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "write a snapshot's sectors back onto a device or snapshot",
		ArgsUsage: "SNAPSHOT TARGET",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage("restore requires SNAPSHOT and TARGET")
			}
			cfg := baseConfig(c, dispatch.ActionRestore)
			cfg.Source = c.Args().Get(0)
			cfg.Target = c.Args().Get(1)
			return runAndPrint(cfg)
		},
	}
}

func dirCommand() *cli.Command {
	return &cli.Command{
		Name:      "dir",
		Usage:     "list one directory's entries without recursing further",
		ArgsUsage: "SOURCE PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage("dir requires SOURCE and PATH")
			}
			cfg := baseConfig(c, dispatch.ActionDir)
			cfg.Source = c.Args().Get(0)
			cfg.Path = c.Args().Get(1)
			return runAndPrint(cfg)
		},
	}
}

func copyCommand() *cli.Command {
	return &cli.Command{
		Name:      "copy",
		Usage:     "stream one file's content out to TARGET",
		ArgsUsage: "SOURCE PATH TARGET",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 3 {
				return diskoerrors.ErrInvalidArgument.WithMessage("copy requires SOURCE, PATH, and TARGET")
			}
			cfg := baseConfig(c, dispatch.ActionCopy)
			cfg.Source = c.Args().Get(0)
			cfg.Path = c.Args().Get(1)
			cfg.Target = c.Args().Get(2)
			return runAndPrint(cfg)
		},
	}
}

func findCommand(name string, action dispatch.Action) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     "walk until PATH is located, then stop",
		ArgsUsage: "SOURCE PATH",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage(name + " requires SOURCE and PATH")
			}
			cfg := baseConfig(c, action)
			cfg.Source = c.Args().Get(0)
			cfg.Path = c.Args().Get(1)
			return runAndPrint(cfg)
		},
	}
}

func whatCommand() *cli.Command {
	return &cli.Command{
		Name:      "what",
		Usage:     "describe which path (if any) claims a given sector/cluster",
		ArgsUsage: "SOURCE UNIT",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage("what requires SOURCE and UNIT")
			}
			unit, err := parseUnit(c.Args().Get(1))
			if err != nil {
				return err
			}
			cfg := baseConfig(c, dispatch.ActionWhat)
			cfg.Source = c.Args().Get(0)
			cfg.Unit = unit
			return runAndPrint(cfg)
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "dump the raw content of one sector/cluster",
		ArgsUsage: "SOURCE UNIT",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return diskoerrors.ErrInvalidArgument.WithMessage("read requires SOURCE and UNIT")
			}
			unit, err := parseUnit(c.Args().Get(1))
			if err != nil {
				return err
			}
			cfg := baseConfig(c, dispatch.ActionRead)
			cfg.Source = c.Args().Get(0)
			cfg.Unit = unit
			return runAndPrint(cfg)
		},
	}
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "overwrite one sector with hex-encoded data",
		ArgsUsage: "SOURCE UNIT HEXDATA",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 3 {
				return diskoerrors.ErrInvalidArgument.WithMessage("write requires SOURCE, UNIT, and HEXDATA")
			}
			unit, err := parseUnit(c.Args().Get(1))
			if err != nil {
				return err
			}
			data, err := hex.DecodeString(c.Args().Get(2))
			if err != nil {
				return diskoerrors.ErrInvalidArgument.WrapError(err)
			}
			cfg := baseConfig(c, dispatch.ActionWrite)
			cfg.Source = c.Args().Get(0)
			cfg.Unit = unit
			cfg.WriteData = data
			return runAndPrint(cfg)
		},
	}
}

func parseUnit(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, diskoerrors.ErrInvalidArgument.WrapError(err)
	}
	return uint32(n), nil
}

// runAndPrint calls Dispatch, prints the resulting Report, and turns the
// Report's own exit code into a process exit -- a fatal error from
// Dispatch itself is left for main's app.Run wrapper to report as exit 2.
func runAndPrint(cfg dispatch.Config) error {
	rep, err := dispatch.Dispatch(cfg)
	if err != nil {
		return err
	}
	printReport(cfg, rep)
	if rep.ExitCode != 0 {
		os.Exit(rep.ExitCode)
	}
	return nil
}

func printReport(cfg dispatch.Config, rep *dispatch.Report) {
	if rep.Kind != dispatch.FSUnknown {
		fmt.Printf("volume kind: %s\n", rep.Kind)
	}

	if rep.FAT != nil {
		printFATReport(cfg, rep.FAT)
	}
	if rep.HPFS != nil {
		printHPFSReport(cfg, rep.HPFS)
	}

	switch cfg.Action {
	case dispatch.ActionWhat:
		if rep.WhatPath == "" {
			fmt.Printf("unit %s: class %s, unreachable\n", formatUnit(cfg), rep.WhatClass)
		} else {
			fmt.Printf("unit %s: class %s, reached via %s\n", formatUnit(cfg), rep.WhatClass, rep.WhatPath)
		}
	case dispatch.ActionRead:
		if rep.SectorData != nil {
			fmt.Println(hex.Dump(rep.SectorData[:]))
		}
	case dispatch.ActionCopy:
		fmt.Printf("copied %s\n", formatBytes(uint64(rep.CopyBytes)))
	case dispatch.ActionRestore:
		fmt.Printf("restored %s\n", formatBytes(uint64(rep.CopyBytes)))
	case dispatch.ActionDiff:
		mismatches := len(rep.DiffDiffering) + len(rep.DiffOnlyInSource) + len(rep.DiffOnlyInTarget)
		fmt.Printf("compared %d sectors, %d mismatches\n", rep.DiffSectorsCompared, mismatches)
		for _, n := range rep.DiffDiffering {
			fmt.Printf("  differs: sector %s\n", formatSector(cfg, n))
		}
		for _, n := range rep.DiffOnlyInSource {
			fmt.Printf("  only in %s: sector %s\n", cfg.Source, formatSector(cfg, n))
		}
		for _, n := range rep.DiffOnlyInTarget {
			fmt.Printf("  only in %s: sector %s\n", cfg.Target, formatSector(cfg, n))
		}
	}

	if rep.Warnings != nil && !rep.Warnings.Clean() {
		fmt.Printf("%d hard, %d soft warning(s):\n", rep.Warnings.HardCount(), rep.Warnings.SoftCount())
		for _, w := range rep.Warnings.All() {
			fmt.Printf("  %s\n", w)
		}
	}
}

func printFATReport(cfg dispatch.Config, r *fat.Report) {
	if !cfg.Summary {
		fmt.Printf("files: %d, directories: %d, lost clusters: %d\n", r.Files, r.Directories, r.LostClusters)
	}
	if r.FoundPath != "" {
		fmt.Printf("found %q at cluster %s (%s)\n", r.FoundPath, formatSector(cfg, r.FoundCluster), formatBytes(uint64(r.FoundSize)))
	}
	for _, d := range r.DirListing {
		printDirEntry(cfg, d.Name, d.IsDir, d.Size, d.FirstCluster)
	}
}

func printHPFSReport(cfg dispatch.Config, r *hpfs.Report) {
	if !cfg.Summary {
		fmt.Printf("files: %d, directories: %d, lost sectors: %d\n", r.Files, r.Directories, r.LostSectors)
	}
	if r.FoundPath != "" {
		fmt.Printf("found %q at sector %s (%s)\n", r.FoundPath, formatSector(cfg, r.FoundFNode), formatBytes(uint64(r.FoundSize)))
	}
	for _, d := range r.DirListing {
		printDirEntry(cfg, d.Name, d.IsDir, d.Size, d.FNodeSector)
	}
	if cfg.Frag && r.FreeRuns != nil {
		fmt.Printf("free-run histogram: %v\n", r.FreeRuns)
	}
}

func printDirEntry(cfg dispatch.Config, name string, isDir bool, size, unit uint32) {
	kind := "file"
	if isDir {
		kind = "dir "
	}
	fmt.Printf("  %s  %-20s  %10s  unit %s\n", kind, name, formatBytes(uint64(size)), formatSector(cfg, unit))
}

func formatUnit(cfg dispatch.Config) string {
	return formatSector(cfg, cfg.Unit)
}

func formatSector(cfg dispatch.Config, n uint32) string {
	if cfg.HexFormat {
		return fmt.Sprintf("0x%x", n)
	}
	return strconv.FormatUint(uint64(n), 10)
}

// formatBytes renders a byte count the way
// _examples/ostafen-digler/internal/disk/mbr.go does, since §1 places
// general-purpose text formatting out of scope for a new dependency.
func formatBytes(b uint64) string {
	const (
		_  = iota
		KB = 1 << (10 * iota)
		MB = 1 << (10 * iota)
		GB = 1 << (10 * iota)
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
