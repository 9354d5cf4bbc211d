// Package config is the viper/cobra configuration layer shared by
// cmd/planetd's subcommands, grounded on the teacher's internal/cmd
// root.go: persistent flags bound to viper keys, an env prefix, and a
// YAML config file searched in the working directory.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment-variable prefix every bound flag is also
// readable under, e.g. PLANETCORE_LOG_LEVEL.
const EnvPrefix = "PLANETCORE"

// Body holds the settings needed to construct an internal/body.Body,
// read from flags/env/config file after RegisterFlags + Init have run.
type Body struct {
	LandModel        string // "sphere" or "ellipsoid"
	EquatorialRadius float64
	PolarRadius      float64
	MaxLevel         int
	SplitDistance    float64
	MeshRows         int
	MeshCols         int
	UseSkirts        bool
	UseBorders       bool
	ImageWidth       int
	ImageHeight      int
	Rows             int
	Columns          int
	WorkerCount      int
}

// Overpass holds the settings needed to construct a vector.OverpassSource.
type Overpass struct {
	Endpoint string
	Workers  int
}

// Cache holds the settings needed to construct an internal/diskcache.Cache.
type Cache struct {
	Dir string
}

// Config is the fully resolved configuration for cmd/planetd.
type Config struct {
	LogLevel string
	Body     Body
	Overpass Overpass
	Cache    Cache
}

var cfgFile string

// RegisterFlags attaches every persistent flag this package reads to
// root, matching the shape of the teacher's rootCmd.PersistentFlags()
// plus its per-subcommand viper.BindPFlag loop in internal/cmd/serve.go.
func RegisterFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./planetcore.yaml)")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	root.PersistentFlags().String("land-model", "sphere", "Land model (sphere, ellipsoid)")
	root.PersistentFlags().Float64("equatorial-radius", 6371008.8, "Equatorial radius in meters")
	root.PersistentFlags().Float64("polar-radius", 6356752.314245, "Polar radius in meters (ellipsoid only)")
	root.PersistentFlags().Int("max-level", 20, "Maximum quadtree split level")
	root.PersistentFlags().Float64("split-distance", 2_000_000, "Split distance threshold in meters")
	root.PersistentFlags().Int("mesh-rows", 17, "Per-tile mesh rows")
	root.PersistentFlags().Int("mesh-cols", 17, "Per-tile mesh columns")
	root.PersistentFlags().Bool("use-skirts", true, "Extrude mesh skirts at tile edges")
	root.PersistentFlags().Bool("use-borders", false, "Emit border wireframe geometry")
	root.PersistentFlags().Int("image-width", 256, "Per-tile texture width")
	root.PersistentFlags().Int("image-height", 256, "Per-tile texture height")
	root.PersistentFlags().Int("rows", 2, "Root tiling rows")
	root.PersistentFlags().Int("columns", 4, "Root tiling columns")
	root.PersistentFlags().Int("workers", 4, "Job manager worker count")

	root.PersistentFlags().String("overpass-endpoint", "https://overpass-api.de/api/interpreter", "Overpass API endpoint")
	root.PersistentFlags().Int("overpass-workers", 2, "Overpass concurrent request workers")

	root.PersistentFlags().String("cache-dir", "./tilecache", "Disk cache directory")

	mustBind := func(name string) {
		if err := viper.BindPFlag(name, root.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("config: failed to bind flag %s: %v", name, err))
		}
	}
	for _, name := range []string{
		"log-level", "land-model", "equatorial-radius", "polar-radius",
		"max-level", "split-distance", "mesh-rows", "mesh-cols",
		"use-skirts", "use-borders", "image-width", "image-height",
		"rows", "columns", "workers",
		"overpass-endpoint", "overpass-workers",
		"cache-dir",
	} {
		mustBind(name)
	}
}

// Init reads the config file (if any) and environment, matching the
// teacher's initConfig: an explicit --config path takes precedence,
// otherwise a ./planetcore.yaml in the working directory is optional.
func Init() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("planetcore")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "config: using file", viper.ConfigFileUsed())
	}
}

// Load resolves the final Config from whatever Init populated viper with.
func Load() Config {
	return Config{
		LogLevel: viper.GetString("log-level"),
		Body: Body{
			LandModel:        viper.GetString("land-model"),
			EquatorialRadius: viper.GetFloat64("equatorial-radius"),
			PolarRadius:      viper.GetFloat64("polar-radius"),
			MaxLevel:         viper.GetInt("max-level"),
			SplitDistance:    viper.GetFloat64("split-distance"),
			MeshRows:         viper.GetInt("mesh-rows"),
			MeshCols:         viper.GetInt("mesh-cols"),
			UseSkirts:        viper.GetBool("use-skirts"),
			UseBorders:       viper.GetBool("use-borders"),
			ImageWidth:       viper.GetInt("image-width"),
			ImageHeight:      viper.GetInt("image-height"),
			Rows:             viper.GetInt("rows"),
			Columns:          viper.GetInt("columns"),
			WorkerCount:      viper.GetInt("workers"),
		},
		Overpass: Overpass{
			Endpoint: viper.GetString("overpass-endpoint"),
			Workers:  viper.GetInt("overpass-workers"),
		},
		Cache: Cache{
			Dir: viper.GetString("cache-dir"),
		},
	}
}

// NewLogger builds the slog.Logger every package logs through, mapping a
// textual level the same way the teacher's initLogging does.
func NewLogger(levelStr string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "err":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "config: unknown log level %q, defaulting to info\n", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
