package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mvtview/internal/config"
	"mvtview/internal/dispatch"
	"mvtview/internal/logger"
	"mvtview/internal/provider"
	"mvtview/internal/style_list"
	"mvtview/internal/tile_encoder"
)

// Options holds the flags shared by every subcommand. Defaults come from
// the same environment variables the server reads.
type Options struct {
	URLTemplate   string
	Layers        string
	MaxZoom       int
	MaxNativeZoom int
	Resolution    float64
	StyleDir      string
	Style         string
	UseWorkers    bool
	FetchTimeout  time.Duration
	LogLevel      string
}

func main() {
	cfg := config.Load()
	opts := &Options{}

	root := &cobra.Command{
		Use:           "mvtctl",
		Short:         "Render and inspect Mapbox vector tiles",
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.URLTemplate, "url", "u", cfg.URLTemplate, "Tile URL template with {z}, {x} and {y}")
	flags.StringVarP(&opts.Layers, "layers", "l", "", "Comma separated vector layer names (default $LAYER_NAMES)")
	flags.IntVar(&opts.MaxZoom, "max-zoom", cfg.MaxZoom, "Highest level served")
	flags.IntVar(&opts.MaxNativeZoom, "max-native-zoom", cfg.MaxNativeZoom, "Highest level the source serves, 0 disables over-zoom")
	flags.Float64Var(&opts.Resolution, "resolution", cfg.Resolution, "Scale factor at the highest level")
	flags.StringVar(&opts.StyleDir, "style-dir", cfg.StyleDir, "Directory of YAML style layers")
	flags.StringVarP(&opts.Style, "style", "s", cfg.StyleLayer, "Style layer id")
	flags.BoolVar(&opts.UseWorkers, "workers", cfg.UseWorkers, "Render on the shared worker pool")
	flags.DurationVar(&opts.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Tile fetch timeout")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "Log level")

	root.AddCommand(renderCmd(cfg, opts), pickCmd(cfg, opts), stylesCmd(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is a provider built from the flags.
type session struct {
	log      *zap.Logger
	provider *provider.Provider
}

func open(cfg *config.Config, opts *Options) (*session, error) {
	log, err := logger.New(opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	styles := style_list.New(opts.StyleDir, log)
	if err := styles.Scan(); err != nil {
		return nil, err
	}
	layer := styles.Layer(opts.Style)
	if opts.Style != "" && layer == nil {
		return nil, fmt.Errorf("unknown style layer: %q", opts.Style)
	}

	layers := cfg.LayerNames
	if opts.Layers != "" {
		layers = config.ParseList(opts.Layers)
	}

	p, err := provider.New(provider.Options{
		URLTemplate:        opts.URLTemplate,
		LayerNames:         layers,
		MaximumLevel:       opts.MaxZoom,
		MaximumNativeLevel: opts.MaxNativeZoom,
		Resolution:         opts.Resolution,
		UseWorkers:         opts.UseWorkers,
		WorkerCount:        cfg.WorkerCount,
		StyleLayer:         layer,
		FetchTimeout:       opts.FetchTimeout,
		PointHitRadius:     cfg.PointHitRadius,
		LineHitWidth:       cfg.LineHitWidth,
	}, log)
	if err != nil {
		return nil, err
	}
	return &session{log: log, provider: p}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.provider.Dispose(ctx)
	s.log.Sync()
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func renderCmd(cfg *config.Config, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render Z X Y",
		Short: "Render one tile to an image file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			zxy, err := parseInts(args)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			formatName, _ := cmd.Flags().GetString("format")
			format, err := tile_encoder.ParseFormat(formatName)
			if err != nil {
				return err
			}
			if format != tile_encoder.PNG {
				vips.Startup(&vips.Config{
					ConcurrencyLevel: cfg.VipsConcurrency,
					MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
				})
				defer vips.Shutdown()
			}

			s, err := open(cfg, opts)
			if err != nil {
				return err
			}
			defer s.close()

			result, ok, err := s.provider.RenderTile(cmd.Context(), provider.TileRequest{
				X:      zxy[1],
				Y:      zxy[2],
				Level:  zxy[0],
				Format: format,
			})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("tile %d/%d/%d: %w", zxy[0], zxy[1], zxy[2], dispatch.ErrRejected)
			}

			if out == "" {
				out = fmt.Sprintf("%d_%d_%d.%s", zxy[0], zxy[1], zxy[2], format)
			}
			if err := os.WriteFile(out, result.Data, 0644); err != nil {
				return fmt.Errorf("failed to write tile: %w", err)
			}
			fmt.Printf("%s (%d bytes)\n", out, result.Size)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file (default Z_X_Y.FORMAT)")
	cmd.Flags().StringP("format", "f", cfg.TileFormat, "Image format: png, jpeg or webp")
	return cmd
}

func pickCmd(cfg *config.Config, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pick Z X Y LON LAT",
		Short: "List the features under a point (JSON by default, --yaml for YAML)",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			zxy, err := parseInts(args[:3])
			if err != nil {
				return err
			}
			lon, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid longitude %q", args[3])
			}
			lat, err := strconv.ParseFloat(args[4], 64)
			if err != nil {
				return fmt.Errorf("invalid latitude %q", args[4])
			}

			s, err := open(cfg, opts)
			if err != nil {
				return err
			}
			defer s.close()

			features, err := s.provider.PickFeatures(cmd.Context(), zxy[1], zxy[2], zxy[0], lon, lat, nil)
			if err != nil {
				return err
			}
			useYAML, _ := cmd.Flags().GetBool("yaml")
			return printValue(features, useYAML)
		},
	}
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return cmd
}

func stylesCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "styles",
		Short: "List the style layers in the style directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(opts.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			styles := style_list.New(opts.StyleDir, log)
			if err := styles.Scan(); err != nil {
				return err
			}
			useYAML, _ := cmd.Flags().GetBool("yaml")
			return printValue(styles.GetStyles(), useYAML)
		},
	}
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return cmd
}

func printValue(v any, useYAML bool) error {
	var output []byte
	var err error
	if useYAML {
		output, err = yaml.Marshal(v)
	} else {
		output, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
