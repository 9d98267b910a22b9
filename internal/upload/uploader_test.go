package upload

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koios/inkboard/internal/device"
	"github.com/koios/inkboard/internal/raster"
)

// fakeDevice records every call and serves scripted answers.
type fakeDevice struct {
	mu      sync.Mutex
	info    device.Info
	free    []uint32
	drawErr map[int]error
	calls   []string
	draws   []device.DrawRequest
}

func (f *fakeDevice) Info(ctx context.Context) (device.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "info")
	return f.info, nil
}

func (f *fakeDevice) FreeMemory(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "free")
	v := f.free[0]
	if len(f.free) > 1 {
		f.free = f.free[1:]
	}
	return v, nil
}

func (f *fakeDevice) Draw(ctx context.Context, req device.DrawRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "draw")
	if err := f.drawErr[len(f.draws)]; err != nil {
		return err
	}
	f.draws = append(f.draws, req)
	return nil
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func panel() *fakeDevice {
	return &fakeDevice{info: device.Info{Width: 600, Height: 448, Temperature: 21}, free: []uint32{100000}}
}

func TestUpload_RejectsOutOfBoundsWithoutWrites(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("width", "600")
		w.Header().Set("height", "448")
		w.Header().Set("temperature", "20")
	}))
	defer srv.Close()
	client, err := device.NewClient(srv.URL)
	require.NoError(t, err)

	u := New(client, zap.NewNop())
	_, err = u.Upload(context.Background(), solid(10, 10, color.White), Request{X: 500, Y: 0, Width: 200, Height: 100})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rect", ve.Field)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"GET /"}, hits, "only the geometry read may reach the device")
}

func TestUpload_ValidatesBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"negative x", Request{X: -1}, "x"},
		{"negative height", Request{Height: -4}, "height"},
		{"mono1 without mono", Request{Format: raster.Mono1}, "format"},
		{"usage above one", Request{MaxUsage: 1.5}, "max_usage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := panel()
			_, err := New(dev, nil).Upload(context.Background(), solid(4, 4, color.White), tt.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, dev.calls)
		})
	}
}

func TestUpload_FullPanelGray4(t *testing.T) {
	dev := panel()
	res, err := New(dev, zap.NewNop()).Upload(context.Background(), solid(800, 600, color.Black), Request{Clear: true})
	require.NoError(t, err)

	require.Len(t, dev.draws, 2)
	assert.Equal(t, 0, dev.draws[0].Y)
	assert.Equal(t, 266, dev.draws[0].Height)
	assert.Equal(t, 266, dev.draws[1].Y)
	assert.Equal(t, 182, dev.draws[1].Height)
	assert.True(t, dev.draws[0].Clear)
	assert.False(t, dev.draws[1].Clear)
	for _, d := range dev.draws {
		assert.False(t, d.Mono)
		assert.Equal(t, 600, d.Width)
		assert.Len(t, d.Payload, 600*d.Height/2)
	}

	assert.Equal(t, Rect{0, 0, 600, 448}, res.Rect)
	assert.Equal(t, 2, res.Patches)
	assert.Equal(t, 600*448/2, res.Bytes)
	assert.Equal(t, "2ppB", res.Format)
	assert.NotEmpty(t, res.UploadID)
}

func TestUpload_InsufficientMemoryBeforeDraw(t *testing.T) {
	dev := panel()
	dev.free = []uint32{100}
	_, err := New(dev, nil).Upload(context.Background(), solid(4, 4, color.White), Request{})
	var ime *InsufficientDeviceMemoryError
	require.ErrorAs(t, err, &ime)
	assert.Equal(t, []string{"info", "free"}, dev.calls)
}

func TestUpload_PatchFailureStopsStream(t *testing.T) {
	dev := panel()
	dev.drawErr = map[int]error{1: &device.DeviceError{Method: "POST", Path: "/draw", StatusCode: 500, Message: "boom"}}

	_, err := New(dev, nil).Upload(context.Background(), solid(50, 50, color.White), Request{})
	var pe *PatchError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, 266, pe.Y)
	assert.Equal(t, 182, pe.Height)
	assert.True(t, device.IsDeviceStatus(err, 500))
	assert.Len(t, dev.draws, 1)
}

func TestUpload_OddWidthIsPadded(t *testing.T) {
	dev := panel()
	res, err := New(dev, nil).Upload(context.Background(), solid(20, 20, color.White),
		Request{X: 1, Y: 1, Width: 3, Height: 3, Mono: true, Format: raster.Mono1})
	require.NoError(t, err)
	// Three rows split as 2+1; each strip is padded to whole bytes.
	require.Len(t, dev.draws, 2)
	assert.Equal(t, 2, dev.draws[0].Height)
	assert.Equal(t, 1, dev.draws[1].Height)
	assert.Equal(t, []byte{0x00}, dev.draws[0].Payload)
	assert.Equal(t, []byte{0x00}, dev.draws[1].Payload)
	assert.Equal(t, 2, res.Bytes)
}

func TestUpload_RequeryFreeMemory(t *testing.T) {
	dev := panel()
	// 600 px Gray4: 30000*0.8*2/600 = 80 rows, then 12000 -> 32 rows.
	dev.free = []uint32{30000, 12000}

	res, err := New(dev, nil).Upload(context.Background(), solid(60, 20, color.White),
		Request{Height: 200, RequeryFreeMemory: true})
	require.NoError(t, err)

	var heights []int
	for _, d := range dev.draws {
		heights = append(heights, d.Height)
	}
	assert.Equal(t, []int{80, 32, 32, 32, 24}, heights)
	assert.Equal(t, 5, res.Patches)
	assert.Equal(t, []string{"info", "free", "draw", "free", "draw", "free", "draw", "free", "draw", "free", "draw"}, dev.calls)
}

func TestUpload_CanceledContext(t *testing.T) {
	dev := panel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(dev, nil).Upload(ctx, solid(4, 4, color.White), Request{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, dev.draws)
}

func TestUpload_PreviewHook(t *testing.T) {
	dev := panel()
	var got *image.Gray
	_, err := New(dev, nil).Upload(context.Background(), solid(10, 10, color.Gray{Y: 100}),
		Request{Width: 16, Height: 8, Mono: true, Preview: func(img *image.Gray, f raster.Format) error {
			got = img
			return nil
		}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, image.Rect(0, 0, 16, 8), got.Bounds())
	assert.True(t, raster.IsBinary(got))

	_, err = New(panel(), nil).Upload(context.Background(), solid(10, 10, color.White),
		Request{Preview: func(*image.Gray, raster.Format) error { return io.ErrShortWrite }})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// End to end against an HTTP fake: a white 300x200 mono strip pair.
func TestUpload_EndToEndMono(t *testing.T) {
	type draw struct {
		y, height   int
		clear, bw   string
		payloadSize int
		payload     []byte
	}
	var (
		mu    sync.Mutex
		draws []draw
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("width", "600")
			w.Header().Set("height", "448")
			w.Header().Set("temperature", "19")
		case "/free":
			_, _ = io.WriteString(w, "6000")
		case "/draw":
			body, _ := io.ReadAll(r.Body)
			y, _ := strconv.Atoi(r.Header.Get("y"))
			h, _ := strconv.Atoi(r.Header.Get("height"))
			mu.Lock()
			draws = append(draws, draw{y: y, height: h, clear: r.Header.Get("clear"), bw: r.Header.Get("bw"), payloadSize: len(body), payload: body})
			mu.Unlock()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := device.NewClient(srv.URL)
	require.NoError(t, err)
	res, err := New(client, zap.NewNop()).Upload(context.Background(), solid(300, 200, color.White),
		Request{Width: 300, Height: 200, Mono: true, Format: raster.Mono1, Clear: true})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// 6000*0.8*8/300 = 128 rows per strip.
	require.Len(t, draws, 2)
	assert.Equal(t, 0, draws[0].y)
	assert.Equal(t, 128, draws[0].height)
	assert.Equal(t, 128, draws[1].y)
	assert.Equal(t, 72, draws[1].height)
	assert.Equal(t, "1", draws[0].clear)
	assert.Equal(t, "0", draws[1].clear)
	for _, d := range draws {
		assert.Equal(t, "1", d.bw)
		assert.Equal(t, 300*d.height/8, d.payloadSize)
		for _, b := range d.payload {
			require.Equal(t, byte(0), b, "white packs to clear bits")
		}
	}
	assert.Equal(t, 2, res.Patches)
}
