// Package pong implements the deterministic two-paddle simulation that
// drives a running match.
package pong

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field describes the playing field geometry and ball tuning.
type Field struct {
	Name           string  `yaml:"name" json:"name"`
	Width          float64 `yaml:"width" json:"width"`
	Height         float64 `yaml:"height" json:"height"`
	PaddleWidth    float64 `yaml:"paddle_width" json:"paddleWidth"`
	PaddleHeight   float64 `yaml:"paddle_height" json:"paddleHeight"`
	BallRadius     float64 `yaml:"ball_radius" json:"ballRadius"`
	ServeSpeed     float64 `yaml:"serve_speed" json:"-"`
	MaxBallSpeed   float64 `yaml:"max_ball_speed" json:"-"`
	SpeedUp        float64 `yaml:"speed_up" json:"-"`
	MaxPaddleSpeed float64 `yaml:"max_paddle_speed" json:"-"`
}

// ClassicField returns the built-in 800x600 field.
func ClassicField() Field {
	return Field{
		Name:           "classic",
		Width:          800,
		Height:         600,
		PaddleWidth:    10,
		PaddleHeight:   75,
		BallRadius:     10,
		ServeSpeed:     5,
		MaxBallSpeed:   12,
		SpeedUp:        0.05,
		MaxPaddleSpeed: 8,
	}
}

// Validate checks the geometry invariants.
//
// Postcondition: Returns nil if the field is playable, or an error describing all violations.
func (f Field) Validate() error {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "name must not be empty")
	}
	if f.Width <= 0 || f.Height <= 0 {
		errs = append(errs, fmt.Sprintf("width and height must be positive, got %vx%v", f.Width, f.Height))
	}
	if f.PaddleWidth <= 0 || f.PaddleHeight <= 0 {
		errs = append(errs, "paddle dimensions must be positive")
	}
	if f.PaddleHeight >= f.Height {
		errs = append(errs, "paddle_height must be less than height")
	}
	if f.PaddleWidth*3 >= f.Width {
		errs = append(errs, "paddle_width too large for width")
	}
	if f.BallRadius <= 0 || f.BallRadius*2 >= f.Height {
		errs = append(errs, "ball_radius must be positive and fit the field")
	}
	if f.ServeSpeed <= 0 {
		errs = append(errs, "serve_speed must be positive")
	}
	if f.MaxBallSpeed < f.ServeSpeed {
		errs = append(errs, "max_ball_speed must be >= serve_speed")
	}
	// The ball must not cross a paddle's hit window in a single tick.
	if f.MaxBallSpeed >= f.PaddleWidth+2*f.BallRadius {
		errs = append(errs, "max_ball_speed must be less than paddle_width + 2*ball_radius")
	}
	if f.SpeedUp < 0 {
		errs = append(errs, "speed_up must not be negative")
	}
	if f.MaxPaddleSpeed <= 0 {
		errs = append(errs, "max_paddle_speed must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("field %q: %s", f.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Catalog is a set of named field presets.
type Catalog struct {
	fields map[string]Field
}

// NewCatalog creates a catalog holding the classic field plus the given presets.
// A preset named "classic" replaces the built-in one.
//
// Precondition: every field must pass Validate.
func NewCatalog(fields ...Field) (*Catalog, error) {
	c := &Catalog{fields: map[string]Field{"classic": ClassicField()}}
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		c.fields[f.Name] = f
	}
	return c, nil
}

// Get returns the preset called name.
func (c *Catalog) Get(name string) (Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// Names returns all preset names in ascending order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.fields))
	for n := range c.fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// yamlFieldFile is the top-level YAML structure for field files.
type yamlFieldFile struct {
	Field Field `yaml:"field"`
}

// LoadFieldFromBytes parses and validates one field preset.
// Unset tuning values fall back to the classic field's.
//
// Postcondition: Returns a validated Field or a non-nil error.
func LoadFieldFromBytes(data []byte) (Field, error) {
	var file yamlFieldFile
	file.Field = ClassicField()
	file.Field.Name = ""
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Field{}, fmt.Errorf("parsing field YAML: %w", err)
	}
	if err := file.Field.Validate(); err != nil {
		return Field{}, fmt.Errorf("validating field: %w", err)
	}
	return file.Field, nil
}

// LoadCatalog loads every *.yaml / *.yml file in dir into a Catalog.
// An empty dir yields the built-in catalog.
//
// Postcondition: Returns a catalog or the first error encountered.
func LoadCatalog(dir string) (*Catalog, error) {
	if dir == "" {
		return NewCatalog()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading fields directory %s: %w", dir, err)
	}

	var fields []Field
	seen := make(map[string]string)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading field file %s: %w", path, err)
		}
		f, err := LoadFieldFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := seen[f.Name]; dup {
			return nil, errors.New("duplicate field " + f.Name + " in " + prev + " and " + path)
		}
		seen[f.Name] = path
		fields = append(fields, f)
	}
	return NewCatalog(fields...)
}
