package shared

import "time"

// Timestamp returns the current time as Unix seconds with fractional
// precision, the format every envelope carries.
func Timestamp() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
