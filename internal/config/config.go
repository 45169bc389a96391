package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ByLCY/scoreprint/layout"
)

// Config is the top-level configuration struct for scoreprint.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Layout  LayoutConfig  `mapstructure:"layout"`
	Page    PageConfig    `mapstructure:"page"`
	Render  RenderConfig  `mapstructure:"render"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// LayoutConfig holds the abstract and numeric layout knobs.
type LayoutConfig struct {
	LineWidth            float64 `mapstructure:"line_width"`
	PageHeight           int     `mapstructure:"page_height"`
	MeasureMargin        float64 `mapstructure:"measure_margin"`
	TrackMargin          int     `mapstructure:"track_margin"`
	LineMargin           int     `mapstructure:"line_margin"`
	MinMeasureWidth      float64 `mapstructure:"min_measure_width"`
	SymbolTrailingMargin float64 `mapstructure:"symbol_trailing_margin"`
	CollapseRepeats      bool    `mapstructure:"collapse_repeats"`
	GatherRests          bool    `mapstructure:"gather_rests"`
	MaxLevelHeight       float64 `mapstructure:"max_level_height"`
	ElementMaxZoom       float64 `mapstructure:"element_max_zoom"`
	EndBarSlack          float64 `mapstructure:"end_bar_slack"`
	Strict               bool    `mapstructure:"strict"`
}

// PageConfig holds paper settings. Margin uses CSS shorthand, eg ["15mm"] or
// ["10mm", "12mm"].
type PageConfig struct {
	Size         string   `mapstructure:"size"`
	Orientation  string   `mapstructure:"orientation"`
	Margin       []string `mapstructure:"margin"`
	HeaderHeight float64  `mapstructure:"header_height"`
}

// RenderConfig holds PDF output settings.
type RenderConfig struct {
	Font        string  `mapstructure:"font"`
	FontSize    float64 `mapstructure:"font_size"`
	Header      string  `mapstructure:"header"`
	Footer      string  `mapstructure:"footer"`
	Parallelism int     `mapstructure:"parallelism"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Sentinel validation errors.
var (
	// ErrInvalidLineWidth indicates the line width is not positive.
	ErrInvalidLineWidth = errors.New("layout.line_width must be positive")
	// ErrInvalidPageHeight indicates the page height is not positive.
	ErrInvalidPageHeight = errors.New("layout.page_height must be positive")
	// ErrInvalidMargin indicates a negative measure, track or line margin.
	ErrInvalidMargin = errors.New("layout margins must be non-negative")
	// ErrInvalidZoom indicates the zoom or level height cap is not positive.
	ErrInvalidZoom = errors.New("layout.element_max_zoom and layout.max_level_height must be positive")
	// ErrInvalidOrientation indicates an orientation other than portrait/landscape.
	ErrInvalidOrientation = errors.New("page.orientation must be portrait or landscape")
	// ErrInvalidPage indicates an unknown paper size or a bad margin.
	ErrInvalidPage = errors.New("invalid page settings")
	// ErrInvalidLogLevel indicates an unknown logging level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	l := c.Layout
	if l.LineWidth <= 0 {
		return ErrInvalidLineWidth
	}
	if l.PageHeight <= 0 {
		return ErrInvalidPageHeight
	}
	if l.MeasureMargin < 0 || l.TrackMargin < 0 || l.LineMargin < 0 {
		return ErrInvalidMargin
	}
	if l.ElementMaxZoom <= 0 || l.MaxLevelHeight <= 0 {
		return ErrInvalidZoom
	}
	switch strings.ToLower(c.Page.Orientation) {
	case "", "portrait", "landscape":
	default:
		return ErrInvalidOrientation
	}
	if _, err := c.PageSize(); err != nil {
		return err
	}
	if _, err := c.Margin(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LayoutOptions converts the layout section. Notation is left for the caller.
func (c *Config) LayoutOptions(logger *log.Logger) layout.Options {
	opts := layout.DefaultOptions()
	l := c.Layout
	opts.LineWidth = l.LineWidth
	opts.PageHeight = l.PageHeight
	opts.MeasureMargin = l.MeasureMargin
	opts.TrackMargin = l.TrackMargin
	opts.LineMargin = l.LineMargin
	opts.MinMeasureWidth = l.MinMeasureWidth
	opts.SymbolTrailingMargin = l.SymbolTrailingMargin
	opts.CollapseRepeats = l.CollapseRepeats
	opts.GatherRests = l.GatherRests
	opts.Logger = logger
	return opts
}

// NumericOptions converts the numeric part of the layout section.
func (c *Config) NumericOptions(logger *log.Logger) layout.NumericOptions {
	return layout.NumericOptions{
		MaxLevelHeight: c.Layout.MaxLevelHeight,
		ElementMaxZoom: c.Layout.ElementMaxZoom,
		MeasureMargin:  c.Layout.MeasureMargin,
		EndBarSlack:    c.Layout.EndBarSlack,
		Strict:         c.Layout.Strict,
		Logger:         logger,
	}
}

// PageSize resolves the paper preset and orientation in mm.
func (c *Config) PageSize() (layout.PageSize, error) {
	size, err := layout.ResolvePageSize(c.Page.Size, strings.EqualFold(c.Page.Orientation, "landscape"))
	if err != nil {
		return layout.PageSize{}, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	return size, nil
}

// Margin parses page.margin.
func (c *Config) Margin() (layout.Margin, error) {
	m, err := layout.ParseMargin(c.Page.Margin)
	if err != nil {
		return layout.Margin{}, fmt.Errorf("%w: %v", ErrInvalidPage, err)
	}
	return m, nil
}

// Geometry returns the content area of every page.
func (c *Config) Geometry() (layout.Geometry, error) {
	size, err := c.PageSize()
	if err != nil {
		return layout.Geometry{}, err
	}
	m, err := c.Margin()
	if err != nil {
		return layout.Geometry{}, err
	}
	return layout.ContentGeometry(size, m, c.Page.HeaderHeight), nil
}

// LogLevel parses logging.level; empty means info.
func (c *Config) LogLevel() (log.Level, error) {
	if c.Logging.Level == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}
	return lvl, nil
}
