package cmd

import (
	"bytes"
	"fmt"

	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List available compute devices.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	devList := compute.SelectDevices(compute.AllDevices)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Device", "Type", "Compute units", "Max workgroup", "Local memory"})
	for _, dev := range devList {
		table.Append([]string{
			dev.Name,
			dev.Type.String(),
			fmt.Sprintf("%d", dev.ComputeUnits),
			fmt.Sprintf("%d", dev.MaxWorkgroupSize),
			fmt.Sprintf("%d bytes", dev.LocalMemSize),
		})
	}
	table.Render()

	logger.Noticef("system provides %d compute device(s)\n%s", len(devList), buf.String())
	return nil
}
