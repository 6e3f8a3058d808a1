package geometry

import (
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// knownGeometry is one row of the classic floppy/HPFS-era geometry catalog,
// the same gocarina/gocsv-based table-of-named-geometries idiom as
// dargueta-disko/disks/disks.go's DiskGeometry, trimmed to the fields a
// fallback lookup actually needs. The teacher's own copy referenced a
// go:embed CSV that wasn't part of the retrieved source slice, so this
// catalog's CSV text is an inline string constant instead of an external
// file -- same library, same shape, no missing asset.
type knownGeometry struct {
	Slug            string `csv:"slug"`
	Heads           uint32 `csv:"heads"`
	Cylinders       uint32 `csv:"cylinders"`
	SectorsPerTrack uint32 `csv:"sectors_per_track"`
}

// catalogCSV lists the floppy geometries an OS/2-era HPFS or FAT volume is
// most likely to have been formatted on, keyed by their conventional slug.
const catalogCSV = `slug,heads,cylinders,sectors_per_track
360k,2,40,9
720k,2,80,9
1200k,2,80,15
1440k,2,80,18
2880k,2,80,36
`

var byBytes map[int64]Geometry
var bySlug map[string]Geometry

func init() {
	var rows []knownGeometry
	if err := gocsv.UnmarshalString(catalogCSV, &rows); err != nil {
		panic(fmt.Sprintf("geometry: malformed built-in catalog: %s", err))
	}

	byBytes = make(map[int64]Geometry, len(rows))
	bySlug = make(map[string]Geometry, len(rows))
	for _, row := range rows {
		g := Geometry{Heads: row.Heads, Cylinders: row.Cylinders, SectorsPerTrack: row.SectorsPerTrack}
		bySlug[row.Slug] = g
		byBytes[int64(g.TotalSectors())*512] = g
	}
}

// Lookup returns the known geometry registered under slug, e.g. "1440k".
func Lookup(slug string) (Geometry, error) {
	g, ok := bySlug[strings.ToLower(slug)]
	if !ok {
		return Geometry{}, fmt.Errorf("geometry: no known geometry named %q", slug)
	}
	return g, nil
}

// GuessBySize returns the known geometry whose total size in bytes matches
// totalBytes exactly, used as a BIOS-parameter-block fallback when a
// device's own geometry fields are zero or obviously wrong. The second
// return value is false if no catalog entry matches.
func GuessBySize(totalBytes int64) (Geometry, bool) {
	g, ok := byBytes[totalBytes]
	return g, ok
}
