package docview

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type LayoutConfig struct {
	Width  float64 `toml:"width"`
	Height float64 `toml:"height"`
	EM     float64 `toml:"em"`
}

func (l LayoutConfig) Params() LayoutParams {
	return LayoutParams{Width: l.Width, Height: l.Height, EM: l.EM}
}

type RenderConfig struct {
	Resolution float64 `toml:"resolution"`
	NightMode  bool    `toml:"night_mode"`
	Paper      string  `toml:"paper"`
}

type ExportConfig struct {
	Width         int    `toml:"width"`
	Height        int    `toml:"height"`
	Vector        bool   `toml:"vector"`
	TraceTurdSize int    `toml:"trace_turd_size"`
	Links         bool   `toml:"links"`
	Highlight     string `toml:"highlight"`
}

type ToolsConfig struct {
	Palette            []string `toml:"palette"`
	Color              string   `toml:"color"`
	PenWidth           float64  `toml:"pen_width"`
	HighlighterWidth   float64  `toml:"highlighter_width"`
	EraserWidth        float64  `toml:"eraser_width"`
	ShapeWidth         float64  `toml:"shape_width"`
	HighlighterOpacity float64  `toml:"highlighter_opacity"`
}

type WatchConfig struct {
	DebounceMS   int `toml:"debounce_ms"`
	PollInterval int `toml:"poll_interval"` // seconds, 0 = default (5s)
}

func (w WatchConfig) Debounce() time.Duration {
	if w.DebounceMS > 0 {
		return time.Duration(w.DebounceMS) * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (w WatchConfig) PollDuration() time.Duration {
	if w.PollInterval > 0 {
		return time.Duration(w.PollInterval) * time.Second
	}
	return 5 * time.Second
}

type StateConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type Config struct {
	Layout LayoutConfig `toml:"layout"`
	Render RenderConfig `toml:"render"`
	Export ExportConfig `toml:"export"`
	Tools  ToolsConfig  `toml:"tools"`
	Watch  WatchConfig  `toml:"watch"`
	State  StateConfig  `toml:"state"`
	Server ServerConfig `toml:"server"`
}

func DefaultConfig() *Config {
	return &Config{
		Layout: LayoutConfig{
			Width:  DefaultLayout.Width,
			Height: DefaultLayout.Height,
			EM:     DefaultLayout.EM,
		},
		Render: RenderConfig{
			Resolution: DefaultResolution,
			Paper:      "#FFFFFF",
		},
		Export: ExportConfig{
			Width:         DefaultExportWidth,
			Height:        DefaultExportHeight,
			TraceTurdSize: 2,
		},
		Tools: ToolsConfig{
			Palette:            []string{"#FF0000", "#0000FF", "#00FF00", "#FFFF00", "#000000"},
			Color:              "#FF0000",
			PenWidth:           3,
			HighlighterWidth:   15,
			EraserWidth:        20,
			ShapeWidth:         3,
			HighlighterOpacity: 0.5,
		},
		Watch: WatchConfig{
			DebounceMS:   500,
			PollInterval: 5,
		},
		Server: ServerConfig{Addr: ":8093"},
	}
}

// LoadConfig decodes the TOML file at path over the defaults. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Layout.Width <= 0 || c.Layout.Height <= 0 || c.Layout.EM <= 0 {
		errs = append(errs, fmt.Errorf("layout: width, height and em must be positive"))
	}
	if c.Render.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("render: resolution must be positive"))
	}
	if _, err := ParseColor(c.Render.Paper); err != nil {
		errs = append(errs, fmt.Errorf("render.paper: %w", err))
	}
	if c.Export.Width <= 0 || c.Export.Height <= 0 {
		errs = append(errs, fmt.Errorf("export: width and height must be positive"))
	}
	if _, err := ParseColor(c.Tools.Color); err != nil {
		errs = append(errs, fmt.Errorf("tools.color: %w", err))
	}
	for i, p := range c.Tools.Palette {
		if _, err := ParseColor(p); err != nil {
			errs = append(errs, fmt.Errorf("tools.palette[%d]: %w", i, err))
		}
	}
	if o := c.Tools.HighlighterOpacity; o < 0 || o > 1 {
		errs = append(errs, fmt.Errorf("tools.highlighter_opacity: %v not in [0, 1]", o))
	}
	return errors.Join(errs...)
}

// PaperColor returns the configured paper colour, white if unset.
func (c *Config) PaperColor() color.NRGBA {
	col, err := ParseColor(c.Render.Paper)
	if err != nil {
		return color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}
	}
	return col
}

// Presets builds the per-tool presets. The eraser paints with the paper
// colour.
func (c *Config) Presets() ToolPresets {
	p := DefaultToolPresets()
	set := func(t Tool, w float64) {
		pr := p.Presets[t]
		if w > 0 {
			pr.Width = w
		}
		p.Presets[t] = pr
	}
	set(ToolPen, c.Tools.PenWidth)
	set(ToolHighlighter, c.Tools.HighlighterWidth)
	set(ToolEraser, c.Tools.EraserWidth)
	set(ToolShape, c.Tools.ShapeWidth)

	hl := p.Presets[ToolHighlighter]
	hl.Opacity = uint8(c.Tools.HighlighterOpacity*255 + 0.5)
	p.Presets[ToolHighlighter] = hl

	p.EraserColor = c.PaperColor()
	return p
}

// ToolColor is the initial stroke colour.
func (c *Config) ToolColor() color.NRGBA {
	col, err := ParseColor(c.Tools.Color)
	if err != nil {
		return color.NRGBA{0xFF, 0, 0, 0xFF}
	}
	return col
}

// ParseColor parses an opaque #RRGGBB colour.
func ParseColor(hex string) (color.NRGBA, error) {
	r, g, b, err := parseHexColor(hex)
	if err != nil {
		return color.NRGBA{}, err
	}
	return color.NRGBA{r, g, b, 0xFF}, nil
}

func parseHexColor(hex string) (r, g, b uint8, err error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid hex color: #%s (expected 6 hex digits)", hex)
	}
	var rgb [3]uint8
	for i := range 3 {
		val, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid hex color: #%s: %w", hex, err)
		}
		rgb[i] = uint8(val)
	}
	return rgb[0], rgb[1], rgb[2], nil
}

// FormatHexColor is the inverse of parseHexColor.
func FormatHexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
