package orientation

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IIO reads an accelerometer exposed by the Linux industrial I/O
// subsystem, e.g. /sys/bus/iio/devices/iio:device0.
type IIO struct {
	Dir string
}

// Read implements Source. The angle is measured clockwise from the
// natural upright position; it is Unknown when the device lies flat.
func (a IIO) Read() (int, error) {
	x, err := a.axis("x")
	if err != nil {
		return Unknown, err
	}
	y, err := a.axis("y")
	if err != nil {
		return Unknown, err
	}
	z, err := a.axis("z")
	if err != nil {
		return Unknown, err
	}
	return Angle(x, y, z), nil
}

func (a IIO) axis(name string) (float64, error) {
	path := filepath.Join(a.Dir, "in_accel_"+name+"_raw")
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// Angle converts a gravity vector to an orientation in degrees.
// Readings where gravity is mostly along z (device flat) give Unknown.
func Angle(x, y, z float64) int {
	x, y, z = -x, -y, -z
	if (x*x+y*y)*4 < z*z {
		return Unknown
	}
	deg := 90 - int(math.Round(math.Atan2(-y, x)*180/math.Pi))
	return ((deg % 360) + 360) % 360
}
