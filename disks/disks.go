// Package disks sizes blank images before they're formatted: parsing sizes like
// "10K" or "4M", creating zero-filled image files, and looking up named size
// presets.
package disks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/gocarina/gocsv"
	"github.com/xaionaro-go/bytesextra"
)

////////////////////////////////////////////////////////////////////////////////
// Geometry

// DiskGeometry is a named image size.
type DiskGeometry struct {
	Name       string `csv:"name"`
	Slug       string `csv:"slug"`
	TotalBytes int64  `csv:"total_bytes"`
	Notes      string `csv:"notes"`
}

// TotalBlocks gives the number of whole blocks in an image of this size. Any
// trailing partial block is unusable.
func (g *DiskGeometry) TotalBlocks() int64 {
	return g.TotalBytes / c.BlockSize
}

//go:embed disk-geometries.csv
var diskGeometriesRawCSV string
var diskGeometries map[string]DiskGeometry

// GetPredefinedDiskGeometry returns the preset with the given slug.
func GetPredefinedDiskGeometry(slug string) (DiskGeometry, error) {
	geometry, ok := diskGeometries[slug]
	if ok {
		return geometry, nil
	}
	return DiskGeometry{}, wcsufs.ErrNotFound.WithMessage(
		fmt.Sprintf("no predefined disk geometry exists with slug %q", slug))
}

// ListGeometries returns every preset, smallest first.
func ListGeometries() []DiskGeometry {
	geometries := make([]DiskGeometry, 0, len(diskGeometries))
	for _, geometry := range diskGeometries {
		geometries = append(geometries, geometry)
	}

	sort.Slice(
		geometries,
		func(i, j int) bool {
			if geometries[i].TotalBytes != geometries[j].TotalBytes {
				return geometries[i].TotalBytes < geometries[j].TotalBytes
			}
			return geometries[i].Slug < geometries[j].Slug
		},
	)
	return geometries
}

func loadGeometries(rawCSV string) (map[string]DiskGeometry, error) {
	csvReader := csv.NewReader(strings.NewReader(rawCSV))
	csvReader.Comma = '|'

	var rows []DiskGeometry
	err := gocsv.UnmarshalCSV(csvReader, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode disk geometries: %w", err)
	}

	geometries := make(map[string]DiskGeometry, len(rows))
	for i, row := range rows {
		_, exists := geometries[row.Slug]
		if exists {
			return nil, fmt.Errorf(
				"duplicate definition for disk %q found on row %d", row.Slug, i+1)
		}
		geometries[row.Slug] = row
	}
	return geometries, nil
}

func init() {
	var err error
	diskGeometries, err = loadGeometries(diskGeometriesRawCSV)
	if err != nil {
		panic(err)
	}
}

////////////////////////////////////////////////////////////////////////////////
// Blank images

// ParseSize converts a size like "1440K", "4M", or "1048576" into a number of
// bytes. K and M are powers of 1024. The result must be positive.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(size, "K"):
		multiplier = 1024
		size = size[:len(size)-1]
	case strings.HasSuffix(size, "M"):
		multiplier = 1024 * 1024
		size = size[:len(size)-1]
	}

	value, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, wcsufs.ErrInvalidArgument.Wrap(err)
	}
	if value <= 0 {
		return 0, wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("the size %q is illegal", size))
	}
	return value * multiplier, nil
}

// CreateBlankImage creates a zero-filled file of `size` bytes at `path`, ready
// to be formatted. It fails with [wcsufs.ErrExists] if anything is already at
// that path.
func CreateBlankImage(path string, size int64) error {
	if size <= 0 {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("image size must be positive, got %d", size))
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return wcsufs.ErrExists.WithMessage(path)
		}
		return wcsufs.ErrIOFailed.Wrap(err)
	}

	err = file.Truncate(size)
	if err != nil {
		file.Close()
		return wcsufs.ErrIOFailed.Wrap(err)
	}

	err = file.Close()
	if err != nil {
		return wcsufs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// NewMemoryImage returns a zero-filled in-memory image of `totalBlocks` blocks.
func NewMemoryImage(totalBlocks uint) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(make([]byte, totalBlocks*c.BlockSize))
}
