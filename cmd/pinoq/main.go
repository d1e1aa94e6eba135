package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/amiremohamadi/pinoq"
)

func main() {
	app := &cli.App{
		Name:  "pinoq",
		Usage: "a striped multi-disk userspace filesystem",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mount",
				Usage: "mount a volume based on the specified config `FILE`",
			},
			&cli.BoolFlag{
				Name:  "mkfs",
				Usage: "create a pinoq volume: DISKS BLOCKS PATH",
			},
			&cli.StringFlag{
				Name:  "inspect",
				Usage: "print the superblock of the volume at `PATH`",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	log.SetLevel(log.InfoLevel)
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	switch {
	case c.Bool("mkfs"):
		return mkfs(c)
	case c.IsSet("mount"):
		cfg, err := pinoq.LoadConfig(c.String("mount"))
		if err != nil {
			return err
		}
		return pinoq.Mount(cfg)
	case c.IsSet("inspect"):
		return inspect(c.String("inspect"))
	default:
		return cli.ShowAppHelp(c)
	}
}

func mkfs(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("usage: pinoq --mkfs DISKS BLOCKS PATH")
	}
	disks, err := strconv.ParseUint(c.Args().Get(0), 10, 32)
	if err != nil || disks == 0 {
		return fmt.Errorf("invalid disk count %q", c.Args().Get(0))
	}
	blocks, err := strconv.ParseUint(c.Args().Get(1), 10, 32)
	if err != nil || blocks == 0 {
		return fmt.Errorf("invalid blocks per disk %q", c.Args().Get(1))
	}
	return pinoq.Mkfs(uint32(disks), uint32(blocks), c.Args().Get(2))
}

func inspect(path string) error {
	sb, err := pinoq.Inspect(path)
	if err != nil {
		return err
	}
	fmt.Printf("uuid:         %s\n", uuid.UUID(sb.UUID))
	fmt.Printf("version:      %d\n", sb.Version)
	fmt.Printf("block size:   %d\n", sb.BlockSize)
	fmt.Printf("disks:        %d x %d blocks\n", sb.DiskCount, sb.BlocksPerDisk)
	fmt.Printf("blocks:       %d (%d free)\n", sb.BlockCount, sb.FreeBlocks)
	fmt.Printf("inodes:       %d (%d free)\n", sb.InodeCount, sb.FreeInodes)
	fmt.Printf("data region:  blocks %d..%d\n", sb.DataStart, sb.BlockCount-1)
	return nil
}
