package main

import (
	"fmt"
	"sort"

	"github.com/edaniels/lidario"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/vaxelben/lidar-viewer/copc"
)

// ExportAction fetches every node up to the requested level and writes the
// combined points to a LAS file.
func ExportAction(c *cli.Context) (err error) {
	path := c.Args().First()
	if path == "" {
		return errors.New("missing file path or URL")
	}
	out := c.String("out")
	maxLevel := int32(c.Int("max-level"))
	logger := newLogger(c)

	loader := copc.NewLoader(logger)
	idx, err := loader.Load(c.Context, path)
	if err != nil {
		return err
	}
	reader, err := loader.Reader(path)
	if err != nil {
		return err
	}

	keys := make([]copc.VoxelKey, 0, len(idx.Nodes))
	for key := range idx.Nodes {
		if key.Level <= maxLevel {
			keys = append(keys, key)
		}
	}
	// stable output ordering: shallow nodes first
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Level != keys[j].Level {
			return keys[i].Level < keys[j].Level
		}
		return keys[i].String() < keys[j].String()
	})
	if len(keys) == 0 {
		return errors.Errorf("no nodes at or below level %d", maxLevel)
	}

	lf, err := lidario.NewLasFile(out, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()
	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: 2}); err != nil {
		return err
	}

	total := 0
	for _, key := range keys {
		node, ferr := copc.FetchNode(c.Context, reader, idx, key)
		if ferr != nil {
			return ferr
		}
		for i := 0; i < node.Len(); i++ {
			pr0 := &lidario.PointRecord0{
				X:         float64(node.Positions[3*i]),
				Y:         float64(node.Positions[3*i+1]),
				Z:         float64(node.Positions[3*i+2]),
				Intensity: uint16(node.Intensities[i]),
				BitField: lidario.PointBitField{
					Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
				},
				ClassBitField: lidario.ClassificationBitField{
					Value: node.Classifications[i],
				},
				PointSourceID: 1,
			}
			lp := &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(node.Colors[3*i] * 65535),
					Green: uint16(node.Colors[3*i+1] * 65535),
					Blue:  uint16(node.Colors[3*i+2] * 65535),
				},
			}
			if err := lf.AddLasPoint(lp); err != nil {
				return err
			}
		}
		total += node.Len()
		logger.Debugw("exported node", "node", key, "points", node.Len())
	}

	fmt.Fprintf(c.App.Writer, "wrote %d points from %d nodes to %s\n", total, len(keys), out)
	return nil
}
