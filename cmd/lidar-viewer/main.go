// The lidar-viewer command inspects, streams, and exports COPC point clouds.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/vaxelben/lidar-viewer/logging"
)

func main() {
	app := &cli.App{
		Name:            "lidar-viewer",
		Usage:           "stream COPC point clouds at view-dependent detail",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "print a file's header and octree index",
				ArgsUsage: "<path-or-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "node",
						Usage: "fetch one node (level-x-y-z) and print attribute statistics",
					},
				},
				Action: InfoAction,
			},
			{
				Name:      "stream",
				Usage:     "stream files with an orbiting camera and report published render sets",
				ArgsUsage: "<path-or-url>...",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "cycles",
						Value: 300,
						Usage: "update cycles to run",
					},
					&cli.DurationFlag{
						Name:  "frame",
						Value: frameInterval,
						Usage: "delay between update cycles",
					},
				},
				Action: StreamAction,
			},
			{
				Name:      "export",
				Usage:     "fetch nodes up to a level and write them to a LAS file",
				ArgsUsage: "<path-or-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "output .las path",
					},
					&cli.IntFlag{
						Name:  "max-level",
						Value: 2,
						Usage: "deepest octree level to export",
					},
				},
				Action: ExportAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool("debug") {
		return logging.NewDebugLogger("lidar-viewer")
	}
	return logging.NewLogger("lidar-viewer")
}

func sortedLevels(counts map[int32]int) []int32 {
	levels := make([]int32, 0, len(counts))
	for l := range counts {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}
