package upload

import (
	"fmt"
	"math"

	"github.com/koios/inkboard/internal/raster"
)

const (
	// DefaultMaxUsage is the share of free device memory one strip may occupy.
	DefaultMaxUsage = 0.8

	// MinPatchRows is the smallest strip the controller's row-pair decoder accepts.
	MinPatchRows = 2
)

// Strip is one horizontal band of the target region, in region-relative rows.
type Strip struct {
	Index  int
	Y      int
	Height int
}

// PatchHeight returns how many rows of a width×height region fit in one strip given the
// device's free memory. The result is even, except when the whole region is a single row:
// a 1-row region is sent as one 1-row strip rather than rejected as too wide.
// maxUsage must be in (0, 1].
func PatchHeight(freeBytes uint32, maxUsage float64, width, height int, format raster.Format) (int, error) {
	if maxUsage <= 0 || maxUsage > 1 || math.IsNaN(maxUsage) {
		return 0, &ValidationError{Field: "max_usage", Reason: fmt.Sprintf("must be in (0, 1], got %v", maxUsage)}
	}
	if width <= 0 || height <= 0 {
		return 0, &ValidationError{Field: "size", Reason: fmt.Sprintf("must be positive, got %dx%d", width, height)}
	}

	usable := int(math.Floor(float64(freeBytes) * maxUsage))
	maxPixels := usable * format.PixelsPerByte()
	raw := maxPixels / width
	if raw < MinPatchRows {
		return 0, &InsufficientDeviceMemoryError{
			FreeBytes:   freeBytes,
			MaxUsage:    maxUsage,
			UsableBytes: usable,
			Width:       width,
			Format:      format,
		}
	}

	rows := min(raw, height)
	if rows%2 != 0 {
		rows--
	}
	if rows < MinPatchRows {
		rows = height
	}
	return rows, nil
}

// Strips splits height rows into consecutive strips of at most rows rows each.
func Strips(height, rows int) []Strip {
	if height <= 0 || rows <= 0 {
		return nil
	}
	strips := make([]Strip, 0, (height+rows-1)/rows)
	for y := 0; y < height; y += rows {
		strips = append(strips, Strip{Index: len(strips), Y: y, Height: min(rows, height-y)})
	}
	return strips
}

// CheckEvenRows verifies that every strip but the last has an even height of at least
// MinPatchRows.
func CheckEvenRows(strips []Strip) error {
	for i, s := range strips {
		if err := checkStrip(s, i == len(strips)-1); err != nil {
			return err
		}
	}
	return nil
}

func checkStrip(s Strip, last bool) error {
	if s.Height <= 0 {
		return &ValidationError{Field: "patch_rows", Reason: fmt.Sprintf("strip %d has no rows", s.Index)}
	}
	if last {
		return nil
	}
	if s.Height < MinPatchRows || s.Height%2 != 0 {
		return &ValidationError{
			Field:  "patch_rows",
			Reason: fmt.Sprintf("strip %d at row %d has %d rows, want an even count >= %d", s.Index, s.Y, s.Height, MinPatchRows),
		}
	}
	return nil
}
