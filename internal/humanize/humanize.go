package humanize

import "fmt"

func Rate(stepsPerSec uint64) string {
	switch {
	case stepsPerSec > (1000 * 1000):
		return fmt.Sprintf("%.f M inst/s", float64(stepsPerSec)/1000/1000)
	case stepsPerSec > 1000:
		return fmt.Sprintf("%.f K inst/s", float64(stepsPerSec)/1000)
	default:
		return fmt.Sprintf("%d inst/s", stepsPerSec)
	}
}

func Bytes(bytes uint64) string {
	switch {
	case bytes > (1024 * 1024):
		return fmt.Sprintf("%.f MiB", float64(bytes)/1024/1024)
	case bytes > 1024:
		return fmt.Sprintf("%.f KiB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
