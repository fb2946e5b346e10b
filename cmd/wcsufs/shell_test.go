package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dargueta/wcsufs"
	"github.com/dargueta/wcsufs/file_systems/wcsu"
	wcsutest "github.com/dargueta/wcsufs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	stream := wcsutest.CreateMemoryImage(t, 100)
	_, err := wcsu.Format(stream)
	require.NoError(t, err)

	volume, err := wcsu.Mount(stream)
	require.NoError(t, err)

	output := &bytes.Buffer{}
	return newShell(volume, output), output
}

// runLines runs each line and returns everything printed by the last one.
func runLines(t *testing.T, session *shell, output *bytes.Buffer, lines ...string) string {
	for _, line := range lines {
		output.Reset()
		require.NoErrorf(t, session.RunLine(line), "command failed: %q", line)
	}
	return output.String()
}

func TestShell__MkdirAndList(t *testing.T) {
	session, output := newTestShell(t)

	listing := runLines(t, session, output, "mkdir docs", "mkdir -p docs/a/b", "ls")
	assert.Equal(t, "docs\n", listing)

	listing = runLines(t, session, output, "ls -a docs")
	assert.Equal(t, ".\n..\na\n", listing)

	listing = runLines(t, session, output, "ls -l docs")
	assert.Equal(t, "drwx 1 4096 a\n", listing)
}

func TestShell__ChangeDirectory(t *testing.T) {
	session, output := newTestShell(t)

	assert.Equal(t, "/\n", runLines(t, session, output, "pwd"))
	assert.Equal(t, "/x/y\n", runLines(t, session, output, "mkdir -p x/y", "cd x/y", "pwd"))
	assert.Equal(t, "/x\n", runLines(t, session, output, "cd ..", "pwd"))

	err := session.RunLine("cd nowhere")
	assert.ErrorIs(t, err, wcsufs.ErrNotFound)
	assert.EqualError(t, err, "No such file or directory: could not find nowhere")
}

func TestShell__ImportCatExport(t *testing.T) {
	session, output := newTestShell(t)
	hostDir := t.TempDir()

	source := filepath.Join(hostDir, "source.txt")
	contents := strings.Repeat("All work and no play makes Jack a dull boy.\n", 200)
	require.NoError(t, os.WriteFile(source, []byte(contents), 0o644))

	runLines(t, session, output, "mkdir notes", "import "+source+" notes/jack.txt")
	assert.Equal(t, contents, runLines(t, session, output, "cat notes/jack.txt"))

	listing := runLines(t, session, output, "ls -l notes/jack.txt")
	assert.Equal(t, "-rwx 1 8800 jack.txt\n", listing)

	destination := filepath.Join(hostDir, "copy.txt")
	runLines(t, session, output, "export notes/jack.txt "+destination)
	exported, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, contents, string(exported))

	err = session.RunLine("export notes/jack.txt " + destination)
	assert.ErrorIs(t, err, wcsufs.ErrExists)

	err = session.RunLine("import " + source + " notes/jack.txt")
	assert.ErrorIs(t, err, wcsufs.ErrExists)
}

func TestShell__Remove(t *testing.T) {
	session, output := newTestShell(t)
	runLines(t, session, output, "mkdir -p a/b/c")

	err := session.RunLine("rm a")
	assert.ErrorIs(t, err, wcsufs.ErrDirectoryNotEmpty)

	assert.Equal(t, "", runLines(t, session, output, "rm -r a", "ls"))
}

func TestShell__DiskFree(t *testing.T) {
	session, output := newTestShell(t)
	report := runLines(t, session, output, "df")
	assert.Contains(t, report, "blocks: 100 total, 96 data, 95 free")
	assert.Contains(t, report, "inodes: 1 used, 127 free")
}

func TestShell__Run(t *testing.T) {
	session, output := newTestShell(t)
	input := strings.NewReader("mkdir a\n\nbogus\ncd missing\nexit\nmkdir b\n")

	session.Run(input, false)

	assert.True(t, session.done)
	assert.Contains(t, output.String(), "No such file or directory")

	_, err := session.volume.Resolve("/b", wcsu.RootInode)
	assert.ErrorIs(t, err, wcsufs.ErrNotFound, "commands after exit must not run")
	_, err = session.volume.Resolve("/a", wcsu.RootInode)
	assert.NoError(t, err)
}

func TestShell__Usage(t *testing.T) {
	session, _ := newTestShell(t)
	err := session.RunLine("cd")
	assert.EqualError(t, err, "usage: cd PATH")
}
