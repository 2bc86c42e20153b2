// Package colour provides the RGB display colour shared by conditions,
// predictors and volumes of interest.
package colour

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is an 8-bit red/green/blue triple.
type RGB [3]uint8

// Common colours used as defaults by the file formats.
var (
	Black = RGB{0, 0, 0}
	White = RGB{255, 255, 255}
)

// String renders the colour as "r g b".
func (c RGB) String() string {
	return fmt.Sprintf("%d %d %d", c[0], c[1], c[2])
}

// Parse reads a whitespace separated "r g b" triple.
func Parse(s string) (RGB, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return RGB{}, fmt.Errorf("colour %q: expected 3 components, got %d", s, len(fields))
	}
	return FromFields(fields)
}

// FromFields converts exactly three decimal components into a colour.
func FromFields(fields []string) (RGB, error) {
	var c RGB
	if len(fields) != 3 {
		return c, fmt.Errorf("colour: expected 3 components, got %d", len(fields))
	}
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return RGB{}, fmt.Errorf("colour component %q: %w", f, err)
		}
		if n < 0 || n > 255 {
			return RGB{}, fmt.Errorf("colour component %d out of range 0-255", n)
		}
		c[i] = uint8(n)
	}
	return c, nil
}
