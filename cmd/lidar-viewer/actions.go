package main

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/vaxelben/lidar-viewer/copc"
	"github.com/vaxelben/lidar-viewer/lod"
	"github.com/vaxelben/lidar-viewer/stream"
)

const frameInterval = 16 * time.Millisecond

// InfoAction loads a file's metadata and prints its octree shape.
func InfoAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("missing file path or URL")
	}
	logger := newLogger(c)
	loader := copc.NewLoader(logger)
	idx, err := loader.Load(c.Context, path)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "file:      %s\n", path)
	fmt.Fprintf(w, "las:       %d.%d, point format %d, %d points\n",
		idx.Header.VersionMajor, idx.Header.VersionMinor, idx.Header.PointFormat, idx.Header.PointCount)
	cube := idx.Info.Cube()
	fmt.Fprintf(w, "cube:      min (%.2f, %.2f, %.2f) max (%.2f, %.2f, %.2f)\n",
		cube.Min.X, cube.Min.Y, cube.Min.Z, cube.Max.X, cube.Max.Y, cube.Max.Z)
	fmt.Fprintf(w, "octree:    %d nodes, max level %d\n", len(idx.Nodes), idx.MaxLevel)

	perLevel := map[int32]int{}
	pointsPerLevel := map[int32]int{}
	for key, node := range idx.Nodes {
		perLevel[key.Level]++
		pointsPerLevel[key.Level] += int(node.PointCount)
	}
	for _, level := range sortedLevels(perLevel) {
		fmt.Fprintf(w, "  level %d: %d nodes, %d points\n", level, perLevel[level], pointsPerLevel[level])
	}

	if nodeArg := c.String("node"); nodeArg != "" {
		key, err := copc.ParseVoxelKey(nodeArg)
		if err != nil {
			return err
		}
		reader, err := loader.Reader(path)
		if err != nil {
			return err
		}
		node, err := copc.FetchNode(c.Context, reader, idx, key)
		if err != nil {
			return err
		}
		summary := copc.Summarize(node)
		fmt.Fprintf(w, "node %s:   %d points, intensity %.1f±%.1f\n",
			key, summary.Points, summary.IntensityMean, summary.IntensityStdDev)
		for class, count := range summary.Classifications {
			fmt.Fprintf(w, "  class %3d: %d points\n", class, count)
		}
	}
	return nil
}

// StreamAction drives the engine with a camera orbiting the scene and logs
// every published render set.
func StreamAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("missing file paths or URLs")
	}
	logger := newLogger(c)

	engine := stream.New(stream.Config{}, func(entries []lod.RenderEntry) {
		logger.Infow("render set published", "entries", len(entries))
	}, logger)
	defer engine.Close()

	scene := copc.Bounds{}
	for i, path := range c.Args().Slice() {
		if err := engine.AddFile(c.Context, path); err != nil {
			// a bad file coexists with good ones
			continue
		}
		idx, _ := engine.Index(path)
		if i == 0 {
			scene = idx.Info.Cube()
		} else {
			scene = scene.Union(idx.Info.Cube())
		}
	}
	if scene.Diagonal() == 0 {
		return errors.New("no file could be loaded")
	}

	center := scene.Center()
	radius := scene.Diagonal()
	cycles := c.Int("cycles")
	frame := c.Duration("frame")
	for i := 0; i < cycles; i++ {
		if err := c.Context.Err(); err != nil {
			return err
		}
		angle := 2 * math.Pi * float64(i) / float64(cycles)
		eye := r3.Vector{
			X: center.X + radius*math.Cos(angle),
			Y: center.Y + radius*math.Sin(angle),
			Z: center.Z + radius/3,
		}
		engine.Update(lod.LookAt(eye, center, math.Pi/3, 16.0/9, radius/1000, radius*10))
		time.Sleep(frame)
	}

	stats := engine.Stats()
	logger.Infow("stream finished",
		"files", stats.Files,
		"nodesCached", stats.Cache.Nodes,
		"pointsCached", stats.Cache.Points,
		"fetchesSucceeded", stats.Scheduler.Succeeded,
		"fetchesDropped", stats.Scheduler.Dropped,
		"publishes", stats.Publishes,
	)
	return nil
}
