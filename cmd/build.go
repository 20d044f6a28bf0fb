package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/accel/bvh"
	"github.com/kotturtech/OpenCLRayTracer/accel/grid"
	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

type buildStat struct {
	name          string
	constructTime time.Duration
	detail        string
}

// Construct both acceleration structures over a generated scene and
// report per-structure statistics.
func BuildStructures(ctx *cli.Context) error {
	setupLogging(ctx)

	sc, err := generateScene(ctx.Int("triangles"), ctx.Int64("seed"))
	if err != nil {
		return err
	}
	logger.Noticef("generated scene with %d triangles", sc.NumTriangles())

	dev, err := defaultDevice()
	if err != nil {
		return err
	}
	defer dev.Close()
	logger.Noticef(`using device "%s"`, dev.Name)

	bvhManager := bvh.NewManager(dev, sc)
	gridManager := grid.NewManager(dev, sc)

	var stats []buildStat
	for _, m := range []accel.Manager{bvhManager, gridManager} {
		elapsed, err := constructStructure(m)
		if err != nil {
			return err
		}
		defer m.Close()

		switch s := m.(type) {
		case *bvh.Manager:
			stats = append(stats, buildStat{
				name:          "bvh",
				constructTime: elapsed,
				detail:        fmt.Sprintf("%d nodes, %d leaves", len(s.Nodes()), s.NumLeaves()),
			})
		case *grid.Manager:
			cells := s.TopLevelCells()
			var occupied int
			for _, c := range cells {
				if c.ResX != 0 {
					occupied++
				}
			}
			stats = append(stats, buildStat{
				name:          "grid",
				constructTime: elapsed,
				detail:        fmt.Sprintf("%d top cells, %d occupied", len(cells), occupied),
			})
		}
	}

	displayBuildStats(stats)
	return nil
}

func constructStructure(m accel.Manager) (time.Duration, error) {
	if err := m.Initialize(); err != nil {
		return 0, err
	}
	if err := m.InitializeFrame(); err != nil {
		return 0, err
	}
	return m.Construct()
}

func defaultDevice() (*compute.Device, error) {
	devList := compute.SelectDevices(compute.AllDevices)
	if len(devList) == 0 {
		return nil, errors.New("no suitable device found")
	}
	dev := &devList[0]
	if err := dev.Init(); err != nil {
		return nil, err
	}
	return dev, nil
}

func displayBuildStats(stats []buildStat) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Structure", "Construct time", "Detail"})
	for _, stat := range stats {
		table.Append([]string{
			stat.name,
			fmt.Sprintf("%s", stat.constructTime),
			stat.detail,
		})
	}
	table.Render()

	logger.Noticef("construction statistics\n%s", buf.String())
}
