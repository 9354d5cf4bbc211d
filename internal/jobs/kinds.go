package jobs

import (
	"context"

	"github.com/MeKo-Tech/planetcore/internal/geo/extents"
)

// BuildRasterJob fetches/composites a tile's raster texture. The actual
// fetch-and-composite call is injected as Work so this package stays free
// of an import cycle with internal/compositor and internal/raster.
type BuildRasterJob struct {
	TileKey  extents.TileKey
	Work     func(ctx context.Context, tileKey extents.TileKey) error
	priority int
}

func NewBuildRasterJob(tileKey extents.TileKey, work func(context.Context, extents.TileKey) error) *BuildRasterJob {
	return &BuildRasterJob{TileKey: tileKey, Work: work, priority: -tileKey.Level}
}

func (j *BuildRasterJob) Run(ctx context.Context) error { return j.Work(ctx, j.TileKey) }
func (j *BuildRasterJob) Priority() int                 { return j.priority }

// BuildElevationJob merges a tile's elevation grid.
type BuildElevationJob struct {
	TileKey  extents.TileKey
	Work     func(ctx context.Context, tileKey extents.TileKey) error
	priority int
}

func NewBuildElevationJob(tileKey extents.TileKey, work func(context.Context, extents.TileKey) error) *BuildElevationJob {
	return &BuildElevationJob{TileKey: tileKey, Work: work, priority: -tileKey.Level}
}

func (j *BuildElevationJob) Run(ctx context.Context) error { return j.Work(ctx, j.TileKey) }
func (j *BuildElevationJob) Priority() int                 { return j.priority }

// BuildTilesJob builds a parent's four children (mesh + initial texture
// group), the job a tile's SPLITTING state is waiting on.
type BuildTilesJob struct {
	ParentKey extents.TileKey
	Work      func(ctx context.Context, parentKey extents.TileKey) error
	priority  int
}

func NewBuildTilesJob(parentKey extents.TileKey, work func(context.Context, extents.TileKey) error) *BuildTilesJob {
	return &BuildTilesJob{ParentKey: parentKey, Work: work, priority: -parentKey.Level}
}

func (j *BuildTilesJob) Run(ctx context.Context) error { return j.Work(ctx, j.ParentKey) }
func (j *BuildTilesJob) Priority() int                 { return j.priority }

// TileVectorJob refines a tile's inherited vector data into its own
// extent-clipped feature set, the per-tile job internal/vector submits.
type TileVectorJob struct {
	TileKey  extents.TileKey
	Work     func(ctx context.Context, tileKey extents.TileKey) error
	priority int
}

func NewTileVectorJob(tileKey extents.TileKey, work func(context.Context, extents.TileKey) error) *TileVectorJob {
	return &TileVectorJob{TileKey: tileKey, Work: work, priority: -tileKey.Level}
}

func (j *TileVectorJob) Run(ctx context.Context) error { return j.Work(ctx, j.TileKey) }
func (j *TileVectorJob) Priority() int                 { return j.priority }
