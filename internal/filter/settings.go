// Package filter holds the colour adjustments a user makes in the editor and
// the one function that turns them into pixels.
package filter

import (
	"errors"
	"fmt"
)

// Field names one adjustment. The declaration order is the evaluation order.
type Field string

const (
	Brightness Field = "brightness"
	Contrast   Field = "contrast"
	Saturation Field = "saturation"
	Hue        Field = "hue"
	Sepia      Field = "sepia"
	Grayscale  Field = "grayscale"
)

var ErrUnknownField = errors.New("unknown filter field")

type fieldRange struct {
	min, max, def int
}

var ranges = map[Field]fieldRange{
	Brightness: {0, 200, 100},
	Contrast:   {0, 200, 100},
	Saturation: {0, 200, 100},
	Hue:        {-180, 180, 0},
	Sepia:      {0, 100, 0},
	Grayscale:  {0, 100, 0},
}

// Fields lists every adjustment in chain order.
func Fields() []Field {
	return []Field{Brightness, Contrast, Saturation, Hue, Sepia, Grayscale}
}

// Range reports the inclusive bounds and default of a field.
func Range(f Field) (min, max, def int, err error) {
	r, ok := ranges[f]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	return r.min, r.max, r.def, nil
}

type Settings struct {
	Brightness int `json:"brightness"`
	Contrast   int `json:"contrast"`
	Saturation int `json:"saturation"`
	Hue        int `json:"hue"`
	Sepia      int `json:"sepia"`
	Grayscale  int `json:"grayscale"`
}

// Default is the identity filter.
func Default() Settings {
	return Settings{Brightness: 100, Contrast: 100, Saturation: 100}
}

func (s Settings) IsIdentity() bool {
	return s.Clamped() == Default()
}

func (s Settings) Get(f Field) (int, error) {
	p, err := s.field(f)
	if err != nil {
		return 0, err
	}
	return *p, nil
}

// Set returns a copy with one field changed. Out-of-range values are clamped.
func (s Settings) Set(f Field, value int) (Settings, error) {
	p, err := s.field(f)
	if err != nil {
		return s, err
	}
	r := ranges[f]
	*p = clampInt(value, r.min, r.max)
	return s, nil
}

// Clamped forces every field into its declared range.
func (s Settings) Clamped() Settings {
	for _, f := range Fields() {
		p, _ := s.field(f)
		r := ranges[f]
		*p = clampInt(*p, r.min, r.max)
	}
	return s
}

func (s *Settings) field(f Field) (*int, error) {
	switch f {
	case Brightness:
		return &s.Brightness, nil
	case Contrast:
		return &s.Contrast, nil
	case Saturation:
		return &s.Saturation, nil
	case Hue:
		return &s.Hue, nil
	case Sepia:
		return &s.Sepia, nil
	case Grayscale:
		return &s.Grayscale, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
