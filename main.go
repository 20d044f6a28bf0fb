package main

import (
	"os"

	"github.com/kotturtech/OpenCLRayTracer/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "oclraytracer"
	app.Usage = "build and query ray-tracing acceleration structures"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "list-devices",
			Usage:  "list available compute devices",
			Action: cmd.ListDevices,
		},
		{
			Name:  "build",
			Usage: "construct acceleration structures over a generated scene",
			Description: `
Generate a procedural triangle scene, construct both the BVH and the
two-level grid over it and report per-structure construction statistics.`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "triangles",
					Value: 10000,
					Usage: "number of triangles in the generated scene",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 42,
					Usage: "seed for the scene generator",
				},
			},
			Action: cmd.BuildStructures,
		},
		{
			Name:  "trace",
			Usage: "trace primary rays and write a depth-shaded frame",
			Description: `
Generate a procedural triangle scene, construct the selected
acceleration structure and trace one primary ray per pixel. The hit
distances and normals are shaded into a png image.`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "frame height",
				},
				cli.IntFlag{
					Name:  "triangles",
					Value: 10000,
					Usage: "number of triangles in the generated scene",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 42,
					Usage: "seed for the scene generator",
				},
				cli.StringFlag{
					Name:  "structure, s",
					Value: "bvh",
					Usage: "acceleration structure to trace with (bvh or grid)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the traced frame",
				},
			},
			Action: cmd.TraceFrame,
		},
	}

	app.Run(os.Args)
}
