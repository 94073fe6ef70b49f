package output

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/SplitView/internal/display"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestMJPEGSurfaceLifecycle(t *testing.T) {
	m := NewMJPEGSurface(Config{})
	assert.Equal(t, "mjpeg", m.Name())
	assert.Error(t, m.Render(solid(2, 2, color.RGBA{A: 255})), "render before start")

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	require.NoError(t, m.Render(solid(2, 2, color.RGBA{A: 255})))
	assert.Equal(t, uint64(1), m.Stats().Frames)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.False(t, m.Stats().Running)
}

func TestMJPEGSurfaceKeys(t *testing.T) {
	m := NewMJPEGSurface(Config{})

	_, ok := m.PollKey()
	assert.False(t, ok)

	assert.True(t, m.PushKey(display.KeyQuit))
	k, ok := m.PollKey()
	require.True(t, ok)
	assert.True(t, k.IsExit())

	for i := 0; i < 16; i++ {
		require.True(t, m.PushKey('x'))
	}
	assert.False(t, m.PushKey('x'), "buffer full")
}

func TestSnapshotHandler(t *testing.T) {
	m := NewMJPEGSurface(Config{Quality: 100})
	require.NoError(t, m.Start())
	defer m.Stop()

	rec := httptest.NewRecorder()
	m.SnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, m.Render(solid(16, 8, color.RGBA{R: 255, A: 255})))

	rec = httptest.NewRecorder()
	m.SnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())
	r, g, _, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestStreamHandlerSendsLatestFrame(t *testing.T) {
	m := NewMJPEGSurface(Config{})
	require.NoError(t, m.Start())
	require.NoError(t, m.Render(solid(10, 6, color.RGBA{B: 255, A: 255})))

	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	boundary, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", boundary)

	hdr, err := textproto.NewReader(br).ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", hdr.Get("Content-Type"))
	n, err := strconv.Atoi(hdr.Get("Content-Length"))
	require.NoError(t, err)

	img, err := jpeg.Decode(io.LimitReader(br, int64(n)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 6), img.Bounds())

	assert.Eventually(t, func() bool { return m.Stats().Clients == 1 }, time.Second, 10*time.Millisecond)

	// stopping the surface ends the stream
	require.NoError(t, m.Stop())
	_, err = io.ReadAll(br)
	assert.NoError(t, err)
}

func TestViewerHandler(t *testing.T) {
	m := NewMJPEGSurface(Config{Title: "Lab <camera>"})
	rec := httptest.NewRecorder()
	m.ViewerHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<img src="/stream"`)
	assert.Contains(t, body, "/api/key")
	assert.Contains(t, body, "Lab &lt;camera&gt;")
}
