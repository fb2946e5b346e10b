package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dargueta/wcsufs/disks"
	"github.com/dargueta/wcsufs/file_systems/wcsu"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "wcsufs",
		Usage: "Create, format, and explore WCSU file system images",
		Commands: []*cli.Command{
			{
				Name:      "allocate",
				Usage:     "Create a zero-filled image file ready for formatting",
				ArgsUsage: "PATH [SIZE]",
				Description: "SIZE is a number of bytes, optionally followed by K or M. " +
					"Use --geometry instead to pick one of the sizes listed by `geometries`.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "geometry",
						Aliases: []string{"g"},
						Usage:   "use the predefined size with this slug",
					},
				},
				Action: allocateImage,
			},
			{
				Name:      "format",
				Usage:     "Lay out an empty file system over an existing image, erasing it",
				ArgsUsage: "PATH",
				Action:    formatImage,
			},
			{
				Name:   "geometries",
				Usage:  "List the predefined image sizes",
				Action: listGeometries,
			},
			{
				Name:      "shell",
				Usage:     "Mount an image and run commands against it interactively",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "image",
						Usage:   "path to the image, if not given as an argument",
						EnvVars: []string{"WCSUFS_IMAGE"},
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "log every allocation and write to stderr",
						EnvVars: []string{"WCSUFS_VERBOSE"},
					},
				},
				Action: runShell,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func allocateImage(context *cli.Context) error {
	path := context.Args().Get(0)
	if path == "" {
		return cli.Exit("an image path is required", 1)
	}

	var size int64
	var err error
	if slug := context.String("geometry"); slug != "" {
		if context.NArg() > 1 {
			return cli.Exit("give either a size or --geometry, not both", 1)
		}
		var geometry disks.DiskGeometry
		geometry, err = disks.GetPredefinedDiskGeometry(slug)
		if err != nil {
			return err
		}
		size = geometry.TotalBytes
	} else {
		if context.NArg() != 2 {
			return cli.Exit("usage: allocate PATH (SIZE | --geometry SLUG)", 1)
		}
		size, err = disks.ParseSize(context.Args().Get(1))
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(context.App.Writer, "Allocating %d bytes to %s\n", size, path)
	err = disks.CreateBlankImage(path, size)
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "File %s is now ready for formatting\n", path)
	return nil
}

func formatImage(context *cli.Context) error {
	if context.NArg() != 1 {
		return cli.Exit("usage: format PATH", 1)
	}
	path := context.Args().First()

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer file.Close()

	sb, err := wcsu.Format(file)
	if err != nil {
		return err
	}

	fmt.Fprintf(
		context.App.Writer,
		"Formatted %s: %d blocks, %d inodes, %d data blocks\n",
		path,
		sb.TotalBlocks,
		sb.NumInodes,
		sb.NumDataBlocks,
	)
	return file.Sync()
}

func listGeometries(context *cli.Context) error {
	for _, geometry := range disks.ListGeometries() {
		fmt.Fprintf(
			context.App.Writer,
			"%-14s %10d bytes  %6d blocks  %s\n",
			geometry.Slug,
			geometry.TotalBytes,
			geometry.TotalBlocks(),
			geometry.Name,
		)
	}
	return nil
}

func runShell(context *cli.Context) error {
	path := context.Args().First()
	if path == "" {
		path = context.String("image")
	}
	if path == "" {
		return cli.Exit("an image path is required", 1)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}

	var options []wcsu.Option
	if context.Bool("verbose") {
		options = append(options, wcsu.WithLogger(log.Default()))
	}

	volume, err := wcsu.Mount(file, options...)
	if err != nil {
		file.Close()
		return err
	}

	session := newShell(volume, context.App.Writer)
	session.Run(os.Stdin, true)
	return volume.Unmount()
}
