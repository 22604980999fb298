package annotation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Coord is one coordinate component: either a pixel offset or a percentage
// of the reference box's matching dimension.
type Coord struct {
	Value   float64
	Percent bool
}

// Px returns a pixel coordinate.
func Px(v float64) Coord { return Coord{Value: v} }

// Pct returns a percentage coordinate; Pct(25) is "25%".
func Pct(v float64) Coord { return Coord{Value: v, Percent: true} }

// Coordinates is an x/y pair of Coord.
type Coordinates struct {
	X Coord `json:"x"`
	Y Coord `json:"y"`
}

// ParseCoord accepts "12", "12.5" and "25%".
func ParseCoord(s string) (Coord, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return Coord{}, fmt.Errorf("annotation: bad percentage %q", s)
		}
		return Pct(v), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Coord{}, fmt.Errorf("annotation: bad coordinate %q", s)
	}
	return Px(v), nil
}

// Resolve turns c into pixels against a reference size.
func (c Coord) Resolve(size float64) float64 {
	if c.Percent {
		return size * c.Value / 100
	}
	return c.Value
}

func (c Coord) String() string {
	s := strconv.FormatFloat(c.Value, 'f', -1, 64)
	if c.Percent {
		return s + "%"
	}
	return s
}

func (c Coord) MarshalJSON() ([]byte, error) {
	if c.Percent {
		return json.Marshal(c.String())
	}
	return json.Marshal(c.Value)
}

func (c *Coord) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*c = Px(x)
		return nil
	case string:
		parsed, err := ParseCoord(x)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	return fmt.Errorf("annotation: coordinate must be a number or a percentage string, got %s", b)
}
