package testing

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// CreateMemoryImage returns a zero-filled in-memory image of `totalBlocks`
// blocks.
//
//   - While the stream can be written to, its size is fixed to
//     `BlockSize * totalBlocks`.
func CreateMemoryImage(t *testing.T, totalBlocks uint) io.ReadWriteSeeker {
	require.Greater(t, totalBlocks, uint(0), "image must have at least one block")
	return bytesextra.NewReadWriteSeeker(make([]byte, totalBlocks*c.BlockSize))
}

// CreateTempImage creates a zero-filled image file of `totalBlocks` blocks in
// the test's temporary directory. The file is closed automatically when the
// test finishes.
func CreateTempImage(t *testing.T, totalBlocks uint) *os.File {
	path := filepath.Join(t.TempDir(), "image.wcsu")
	file, err := os.Create(path)
	require.NoError(t, err, "failed to create temporary image")
	t.Cleanup(func() { file.Close() })

	err = file.Truncate(int64(totalBlocks) * c.BlockSize)
	require.NoError(t, err, "failed to size temporary image")
	return file
}
