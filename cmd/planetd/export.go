package main

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/MeKo-Tech/planetcore/internal/body"
	"github.com/MeKo-Tech/planetcore/internal/config"
	"github.com/MeKo-Tech/planetcore/internal/elevationlayer"
	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
	"github.com/MeKo-Tech/planetcore/internal/geo/landmodel"
	"github.com/MeKo-Tech/planetcore/internal/mbtiles"
	"github.com/MeKo-Tech/planetcore/internal/quadtree"
	"github.com/MeKo-Tech/planetcore/internal/raster"
	"github.com/MeKo-Tech/planetcore/internal/synth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exportCmd adapts the teacher's folder-to-MBTiles converter
// (internal/cmd/convert.go) into a debug sink for this engine: instead of
// reading a pre-rendered tile folder, it drives a Body to a resident
// split level and dumps every resident tile's current texture straight
// into an MBTiles database, keyed by (level, a per-level running index in
// Walk's depth-first order, 0) since a quadtree forest has no native fixed
// XYZ pyramid to preserve.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render to a resident split level and dump textures to an MBTiles file",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Output MBTiles file path (required)")
	exportCmd.Flags().Int("settle-frames", 10, "Cull/Update cycles to run before dumping")
	exportCmd.Flags().Int64("seed", 1337, "Seed for the procedural raster/elevation layer")

	for _, name := range []string{"output", "settle-frames", "seed"} {
		if err := viper.BindPFlag("export."+name, exportCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("export: failed to bind flag %s: %v", name, err))
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	ctx := cmd.Context()

	outputFile := viper.GetString("export.output")
	if outputFile == "" {
		return fmt.Errorf("--output is required")
	}

	landModel := landmodel.NewSphere(cfg.Body.EquatorialRadius)
	b := body.New(ctx, body.Options{
		LandModel:     landModel,
		MaxLevel:      cfg.Body.MaxLevel,
		SplitDistance: cfg.Body.SplitDistance,
		MeshSize:      extents.MeshSize{Rows: cfg.Body.MeshRows, Cols: cfg.Body.MeshCols},
		ImageSize:     extents.ImageSize{Width: cfg.Body.ImageWidth, Height: cfg.Body.ImageHeight},
		Rows:          cfg.Body.Rows,
		Columns:       cfg.Body.Columns,
		WorkerCount:   cfg.Body.WorkerCount,
		Logger:        logger,
	})
	defer b.Close()

	seed := viper.GetInt64("export.seed")
	b.AddRasterLayer(raster.NewLayer("synthetic-terrain", "v1", synth.NewRasterSource(seed), raster.Options{}))
	b.AddElevationLayer(elevationlayer.NewLayer("synthetic-heightfield", "v1",
		synth.NewElevationSource(seed, 4000), elevationlayer.Options{}))

	settleFrames := viper.GetInt("export.settle-frames")
	eye := landmodel.Vec3{X: landModel.EquatorialRadius() * 1.05, Y: 0, Z: 0}
	for i := 0; i < settleFrames; i++ {
		b.Cull(eye)
		b.Update(ctx)
		b.PurgeTiles(ctx)
		time.Sleep(50 * time.Millisecond) // let background texture/elevation jobs land between cycles
	}

	writer, err := mbtiles.New(outputFile, mbtiles.Metadata{
		Name:        "planetcore export",
		Format:      "png",
		MinZoom:     0,
		MaxZoom:     cfg.Body.MaxLevel,
		Bounds:      [4]float64{-180, -90, 180, 90},
		Center:      [3]float64{0, 0, 0},
		Attribution: "planetcore synthetic export",
		Description: "debug dump of resident tile textures",
		Type:        "baselayer",
		Version:     "1.0",
	})
	if err != nil {
		return fmt.Errorf("export: create mbtiles writer: %w", err)
	}
	defer writer.Close()

	indexPerLevel := map[int]int{}
	var written int
	for _, root := range b.TopTiles() {
		root.Walk(func(t *quadtree.Tile) bool {
			img := t.Texture()
			if img == nil {
				return true
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				logger.Warn("export: encode tile failed", "tile", t.Key().String(), "error", err)
				return true
			}

			level := t.Key().Level
			x := indexPerLevel[level]
			indexPerLevel[level] = x + 1
			if err := writer.WriteTile(level, x, 0, buf.Bytes()); err != nil {
				logger.Warn("export: write tile failed", "tile", t.Key().String(), "error", err)
				return true
			}
			written++
			return true
		})
	}

	logger.Info("export complete", "output", outputFile, "tiles_written", written)
	return nil
}
