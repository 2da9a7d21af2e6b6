package centroid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CentroidConfig holds the per-camera centroiding parameters. When both
// thresholds are zero they are derived from the clipped frame background.
type CentroidConfig struct {
	FWHMX             float64 `yaml:"fwhmx"`
	FWHMY             float64 `yaml:"fwhmy"`
	FixedFWHM         bool    `yaml:"fixedFwhm"` // skip the per-frame mean and use fwhmx/fwhmy
	BoxFind           int     `yaml:"boxFind"`
	BoxCent           int     `yaml:"boxCent"`
	EdgeMargin        int     `yaml:"edgeMargin"`
	FindSigma         float64 `yaml:"findSigma"`
	CentSigma         float64 `yaml:"centSigma"`
	ThreshSigma       float64 `yaml:"threshSigma"` // clipping kappa for the background estimate
	SeedThreshold     int32   `yaml:"seedThreshold"`
	GrowThreshold     int32   `yaml:"growThreshold"`
	GlobalBackground  int32   `yaml:"globalBackground"`
	NMin              int     `yaml:"nmin"`
	NMax              int     `yaml:"nmax"`
	MaxIt             int     `yaml:"maxIt"`
	Precision         float64 `yaml:"precision"`
	Workers           int     `yaml:"workers"`
	BadColumns        []int   `yaml:"badColumns"`
	HotPixelThreshold int32   `yaml:"hotPixelThreshold"` // 0 disables
	Verbose           bool    `yaml:"verbose"`
}

type configFile struct {
	Values CentroidConfig `yaml:"values"`
}

// DefaultCentroidConfig returns the guide camera defaults.
func DefaultCentroidConfig() *CentroidConfig {
	return &CentroidConfig{
		FWHMX:       3.0,
		FWHMY:       3.0,
		BoxFind:     10,
		BoxCent:     6,
		EdgeMargin:  6,
		FindSigma:   5.0,
		CentSigma:   3.0,
		ThreshSigma: 4.0,
		NMin:        10,
		NMax:        90,
		MaxIt:       20,
		Precision:   DefaultPrecision,
		Workers:     4,
	}
}

// LoadConfig reads a YAML parameter file. Keys missing from the file keep
// their defaults.
func LoadConfig(path string) (*CentroidConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading centroid config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document with a top-level "values" mapping.
func ParseConfig(data []byte) (*CentroidConfig, error) {
	file := configFile{Values: *DefaultCentroidConfig()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing centroid config: %w", err)
	}
	cfg := file.Values
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteConfig writes cfg as a YAML parameter file.
func WriteConfig(cfg *CentroidConfig, path string) error {
	data, err := yaml.Marshal(configFile{Values: *cfg})
	if err != nil {
		return fmt.Errorf("encoding centroid config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// AutoThreshold reports whether thresholds come from the frame background.
func (c *CentroidConfig) AutoThreshold() bool {
	return c.SeedThreshold == 0 && c.GrowThreshold == 0
}

func (c *CentroidConfig) Validate() error {
	if c.AutoThreshold() {
		if c.ThreshSigma <= 0 {
			return fmt.Errorf("%w: threshSigma %f must be positive", ErrInvalidParameter, c.ThreshSigma)
		}
		if c.FindSigma < c.CentSigma {
			return fmt.Errorf("%w: findSigma %f below centSigma %f", ErrInvalidParameter, c.FindSigma, c.CentSigma)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers %d must be positive", ErrInvalidParameter, c.Workers)
	}
	if c.HotPixelThreshold < 0 {
		return fmt.Errorf("%w: hotPixelThreshold %d must not be negative", ErrInvalidParameter, c.HotPixelThreshold)
	}
	if err := c.RegionParams().validate(); err != nil {
		return err
	}
	return c.WindowParams(c.FWHMX, c.FWHMY).validate()
}

// RegionParams builds detector parameters. Auto thresholds are left zero
// for the caller to fill.
func (c *CentroidConfig) RegionParams() *RegionParams {
	return &RegionParams{
		SeedThreshold:    c.SeedThreshold,
		GrowThreshold:    c.GrowThreshold,
		SearchBox:        c.BoxFind,
		EdgeMargin:       c.EdgeMargin,
		NMin:             c.NMin,
		NMax:             c.NMax,
		GlobalBackground: c.GlobalBackground,
		Verbose:          c.Verbose,
	}
}

// WindowParams builds refiner parameters for the given widths.
func (c *CentroidConfig) WindowParams(fwhmX, fwhmY float64) WindowParams {
	return WindowParams{
		Radius:        c.BoxCent,
		FWHMX:         fwhmX,
		FWHMY:         fwhmY,
		MaxIterations: c.MaxIt,
		Precision:     c.Precision,
		Verbose:       c.Verbose,
	}
}
