package cmd

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/accel/bvh"
	"github.com/kotturtech/OpenCLRayTracer/accel/grid"
	"github.com/kotturtech/OpenCLRayTracer/scene"
	"github.com/kotturtech/OpenCLRayTracer/types"
	"github.com/urfave/cli"
)

// Trace one primary ray per pixel through the selected acceleration
// structure and write a depth-shaded frame.
func TraceFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	width := uint32(ctx.Int("width"))
	height := uint32(ctx.Int("height"))

	sc, err := generateScene(ctx.Int("triangles"), ctx.Int64("seed"))
	if err != nil {
		return err
	}

	dev, err := defaultDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	var m accel.Manager
	switch structure := ctx.String("structure"); structure {
	case "bvh":
		m = bvh.NewManager(dev, sc)
	case "grid":
		m = grid.NewManager(dev, sc)
	default:
		return fmt.Errorf("unknown acceleration structure %q", structure)
	}

	elapsed, err := constructStructure(m)
	if err != nil {
		return err
	}
	defer m.Close()
	logger.Noticef("constructed %s structure in %s", ctx.String("structure"), elapsed)

	cam := scene.NewCamera(45, width, height)
	cam.Position = types.XYZ(0, 5, -35)
	cam.LookAt = types.XYZ(0, 0, 0)
	cam.Update()

	elapsed, err = m.GenerateContacts(cam)
	if err != nil {
		return err
	}
	logger.Noticef("traced %d rays in %s", width*height, elapsed)

	return writeFrame(m.PrimaryContacts().Data(), width, height, ctx.String("out"))
}

// writeFrame shades contacts into an image: normals drive the color
// channels, depth drives the brightness.
func writeFrame(contacts []accel.Contact, width, height uint32, imgFile string) error {
	f, err := os.Create(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	var maxDepth float32
	for _, c := range contacts {
		if c.Hit() && c.T < math.MaxFloat32 && c.T > maxDepth {
			maxDepth = c.T
		}
	}
	maxDepth++

	// Miss contacts are the zero value, so the pixel index is the slot
	// the contact was stored in.
	im := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	for i, c := range contacts {
		offset := i * 4
		if !c.Hit() {
			im.Pix[offset+3] = 255
			continue
		}

		shade := 1 - c.T/maxDepth
		im.Pix[offset] = uint8(absf(c.Normal[0]) * shade * 255)
		im.Pix[offset+1] = uint8(absf(c.Normal[1]) * shade * 255)
		im.Pix[offset+2] = uint8(absf(c.Normal[2]) * shade * 255)
		im.Pix[offset+3] = 255
	}

	return png.Encode(f, im)
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
