package upload

import (
	"fmt"

	"github.com/koios/inkboard/internal/raster"
)

// ValidationError reports a request the panel cannot accept. It is always returned before any
// write reaches the device.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload: %s %s", e.Field, e.Reason)
}

// InsufficientDeviceMemoryError means the device's free memory cannot hold the minimum strip
// of MinPatchRows rows at the requested width.
type InsufficientDeviceMemoryError struct {
	FreeBytes   uint32
	MaxUsage    float64
	UsableBytes int
	Width       int
	Format      raster.Format
}

func (e *InsufficientDeviceMemoryError) Error() string {
	return fmt.Sprintf("insufficient device memory: %d usable bytes (%.0f%% of %d free) hold fewer than %d rows of %d px in %s",
		e.UsableBytes, e.MaxUsage*100, e.FreeBytes, MinPatchRows, e.Width, e.Format)
}

// PatchError wraps the failure of one strip. Strips before Index were already drawn.
type PatchError struct {
	Index  int
	Y      int
	Height int
	Err    error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %d (rows %d-%d) failed: %v", e.Index, e.Y, e.Y+e.Height, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}
