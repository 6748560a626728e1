package cli

import (
	"fmt"
	"os"
	"sync/atomic"
)

const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Black  = "\033[90m" // bright black, readable on dark terminals
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	White  = "\033[37m"
)

// RGB represents a TrueColor
type RGB struct {
	R, G, B float64
}

var (
	BrandBlue   = RGB{0, 120, 255}  // Blue
	BrandPurple = RGB{189, 52, 235} // Purple
)

var enabled atomic.Bool

func init() {
	_, noColor := os.LookupEnv("NO_COLOR")
	enabled.Store(!noColor)
}

// Enabled reports whether ANSI styling is applied.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled overrides the NO_COLOR detection.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Stylize wraps text in a specific color code
func Stylize(text string, colorCode string) string {
	if !Enabled() {
		return text
	}
	return fmt.Sprintf("%s%s%s", colorCode, text, Reset)
}

// ColorizeRGB returns text wrapped in ANSI TrueColor escape codes
func ColorizeRGB(text string, c RGB) string {
	if !Enabled() {
		return text
	}
	return fmt.Sprintf("\033[38;2;%d;%d;%dm%s%s", int(c.R), int(c.G), int(c.B), text, Reset)
}

// Gradient colors each rune of text along a linear interpolation from
// start to end.
func Gradient(text string, start, end RGB) string {
	if !Enabled() {
		return text
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}

	var out string
	for i, r := range runes {
		progress := 0.0
		if len(runes) > 1 {
			progress = float64(i) / float64(len(runes)-1)
		}
		c := RGB{
			R: start.R + (end.R-start.R)*progress,
			G: start.G + (end.G-start.G)*progress,
			B: start.B + (end.B-start.B)*progress,
		}
		out += fmt.Sprintf("\033[38;2;%d;%d;%dm%c", int(c.R), int(c.G), int(c.B), r)
	}
	return out + Reset
}

func CheckMark() string {
	return Stylize("✔", Green)
}

func Arrow() string {
	return Stylize("➜", Blue)
}

func CrossMark() string {
	return Stylize("✘", Red)
}

func WarningSign() string {
	return Stylize("⚠", Yellow)
}
