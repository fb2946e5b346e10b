package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dargueta/wcsufs"
	"github.com/urfave/cli/v2"
)

// shell runs commands typed by the user against a mounted volume. Each line is
// parsed on its own by a fresh [cli.App], and a failing command never ends the
// session.
type shell struct {
	volume wcsufs.Driver
	out    io.Writer
	done   bool
}

func newShell(volume wcsufs.Driver, out io.Writer) *shell {
	return &shell{volume: volume, out: out}
}

// Run executes every line of `input` until it runs out or `exit` is given.
func (s *shell) Run(input io.Reader, prompt bool) {
	scanner := bufio.NewScanner(input)
	for !s.done {
		if prompt {
			fmt.Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			break
		}

		err := s.RunLine(scanner.Text())
		if err != nil {
			fmt.Fprintln(s.out, err)
		}
	}
}

// RunLine executes a single command.
func (s *shell) RunLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	return s.newApp().Run(append([]string{"wcsufs"}, fields...))
}

func (s *shell) newApp() *cli.App {
	return &cli.App{
		Usage:           "WCSU file system shell",
		HideVersion:     true,
		Writer:          s.out,
		ErrWriter:       s.out,
		ExitErrHandler:  func(*cli.Context, error) {},
		CommandNotFound: s.commandNotFound,
		Commands: []*cli.Command{
			{
				Name:                   "ls",
				Usage:                  "List a directory",
				ArgsUsage:              "[PATH]",
				UseShortOptionHandling: true,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "a", Usage: "include names starting with a dot"},
					&cli.BoolFlag{Name: "l", Usage: "long listing"},
				},
				Action: s.list,
			},
			{
				Name:      "cd",
				Usage:     "Change the current directory",
				ArgsUsage: "PATH",
				Action:    s.changeDirectory,
			},
			{
				Name:   "pwd",
				Usage:  "Print the current directory",
				Action: s.printDirectory,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "p", Usage: "create missing parents"},
				},
				Action: s.makeDirectory,
			},
			{
				Name:      "rm",
				Usage:     "Remove a file or directory",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "r", Usage: "remove directories and their contents"},
				},
				Action: s.remove,
			},
			{
				Name:      "cat",
				Usage:     "Print the contents of a file",
				ArgsUsage: "PATH",
				Action:    s.concatenate,
			},
			{
				Name:      "import",
				Usage:     "Copy a file from the host into the image",
				ArgsUsage: "HOST-PATH IMAGE-PATH",
				Action:    s.importFile,
			},
			{
				Name:      "export",
				Usage:     "Copy a file from the image to the host",
				ArgsUsage: "IMAGE-PATH HOST-PATH",
				Action:    s.exportFile,
			},
			{
				Name:   "df",
				Usage:  "Show free space",
				Action: s.diskFree,
			},
			{
				Name:    "exit",
				Aliases: []string{"quit"},
				Usage:   "Unmount the image and leave",
				Action: func(*cli.Context) error {
					s.done = true
					return nil
				},
			},
		},
	}
}

func (s *shell) commandNotFound(_ *cli.Context, name string) {
	fmt.Fprintf(s.out, "unknown command %q; try `help`\n", name)
}

func usageError(context *cli.Context) error {
	return fmt.Errorf("usage: %s %s", context.Command.Name, context.Command.ArgsUsage)
}

// longListing formats one line of `ls -l`: type, access flags, link count,
// size, and name.
func longListing(name string, stat wcsufs.FileStat) string {
	return fmt.Sprintf(
		"%c%s %d %d %s", stat.Type.TypeChar(), stat.Mode, stat.Nlinks, stat.Size, name)
}

func (s *shell) list(context *cli.Context) error {
	if context.NArg() > 1 {
		return usageError(context)
	}
	target := context.Args().First()
	showAll := context.Bool("a")
	showLong := context.Bool("l")

	inumber, err := s.volume.Resolve(target, s.volume.CurrentDirectory())
	if err != nil {
		return err
	}
	stat, err := s.volume.Stat(inumber)
	if err != nil {
		return err
	}

	printEntry := func(name string, stat wcsufs.FileStat) {
		if strings.HasPrefix(name, ".") && !showAll {
			return
		}
		if showLong {
			fmt.Fprintln(s.out, longListing(name, stat))
		} else {
			fmt.Fprintln(s.out, name)
		}
	}

	if !stat.IsDir() {
		printEntry(path.Base(target), stat)
		return nil
	}

	entries, err := s.volume.Enumerate(inumber)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		entryStat, err := s.volume.Stat(entry.InodeNumber)
		if err != nil {
			return err
		}
		printEntry(entry.Name, entryStat)
	}
	return nil
}

func (s *shell) changeDirectory(context *cli.Context) error {
	if context.NArg() != 1 {
		return usageError(context)
	}
	return s.volume.ChangeDirectory(context.Args().First())
}

func (s *shell) printDirectory(context *cli.Context) error {
	if context.NArg() != 0 {
		return usageError(context)
	}
	cwd, err := s.volume.CurrentPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, cwd)
	return nil
}

func (s *shell) makeDirectory(context *cli.Context) error {
	if context.NArg() != 1 {
		return usageError(context)
	}
	target := context.Args().First()

	if context.Bool("p") {
		_, err := s.volume.MkdirAll(target)
		return err
	}

	parentPath, name := path.Split(strings.TrimRight(target, "/"))
	parent, err := s.volume.Resolve(parentPath, s.volume.CurrentDirectory())
	if err != nil {
		return err
	}
	_, err = s.volume.CreateDirectory(parent, name)
	return err
}

func (s *shell) remove(context *cli.Context) error {
	if context.NArg() != 1 {
		return usageError(context)
	}
	return s.volume.Remove(context.Args().First(), context.Bool("r"))
}

func (s *shell) concatenate(context *cli.Context) error {
	if context.NArg() != 1 {
		return usageError(context)
	}

	inumber, err := s.volume.Resolve(context.Args().First(), s.volume.CurrentDirectory())
	if err != nil {
		return err
	}
	contents, err := s.volume.ReadFile(inumber, -1)
	if err != nil {
		return err
	}

	_, err = s.out.Write(contents)
	return err
}

func (s *shell) importFile(context *cli.Context) error {
	if context.NArg() != 2 {
		return usageError(context)
	}

	hostFile, err := os.Open(context.Args().Get(0))
	if err != nil {
		return err
	}
	defer hostFile.Close()

	inumber, err := s.volume.ImportFile(context.Args().Get(1), hostFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created inode %d\n", inumber)
	return nil
}

func (s *shell) exportFile(context *cli.Context) error {
	if context.NArg() != 2 {
		return usageError(context)
	}
	hostPath := context.Args().Get(1)

	hostFile, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return wcsufs.ErrExists.WithMessage(hostPath)
		}
		return err
	}

	_, err = s.volume.ExportFile(context.Args().Get(0), hostFile)
	closeErr := hostFile.Close()
	if err != nil {
		os.Remove(hostPath)
		return err
	}
	return closeErr
}

func (s *shell) diskFree(context *cli.Context) error {
	stat := s.volume.FSStat()
	fmt.Fprintf(
		s.out,
		"block size: %d\nblocks: %d total, %d data, %d free\ninodes: %d used, %d free\n",
		stat.BlockSize,
		stat.TotalBlocks,
		stat.DataBlocks,
		stat.BlocksFree,
		stat.Files,
		stat.FilesFree,
	)
	return nil
}
