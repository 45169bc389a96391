package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ByLCY/scoreprint/layout"
)

// configName is the config file name without extension.
const configName = ".scoreprint"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix, eg SCOREPRINT_LAYOUT_LINE_WIDTH.
const envPrefix = "SCOREPRINT"

// Page defaults.
const (
	DefaultPageSize     = "A4"
	DefaultOrientation  = "portrait"
	DefaultHeaderHeight = 10.0
	DefaultFontSize     = 10.0
	DefaultHeader       = "${title}"
	DefaultFooter       = "${page} / ${pages}"
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("layout.line_width", layout.DefaultLineWidth)
	v.SetDefault("layout.page_height", layout.DefaultPageHeight)
	v.SetDefault("layout.measure_margin", layout.DefaultMeasureMargin)
	v.SetDefault("layout.track_margin", layout.DefaultTrackMargin)
	v.SetDefault("layout.line_margin", layout.DefaultLineMargin)
	v.SetDefault("layout.min_measure_width", layout.DefaultMinMeasureWidth)
	v.SetDefault("layout.symbol_trailing_margin", -1.0)
	v.SetDefault("layout.collapse_repeats", false)
	v.SetDefault("layout.gather_rests", true)
	v.SetDefault("layout.max_level_height", layout.DefaultMaxLevelHeight)
	v.SetDefault("layout.element_max_zoom", layout.DefaultElementMaxZoom)
	v.SetDefault("layout.end_bar_slack", layout.DefaultEndBarSlack)
	v.SetDefault("layout.strict", false)

	v.SetDefault("page.size", DefaultPageSize)
	v.SetDefault("page.orientation", DefaultOrientation)
	v.SetDefault("page.margin", []string{"15mm"})
	v.SetDefault("page.header_height", DefaultHeaderHeight)

	v.SetDefault("render.font", "")
	v.SetDefault("render.font_size", DefaultFontSize)
	v.SetDefault("render.header", DefaultHeader)
	v.SetDefault("render.footer", DefaultFooter)
	v.SetDefault("render.parallelism", 0)

	v.SetDefault("logging.level", "info")
}
