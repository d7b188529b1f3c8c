package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"publish-pipeline/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func TestRemoteConverter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/image/convert-heic", r.URL.Path)
		assert.Equal(t, "90", r.URL.Query().Get("quality"))
		assert.Equal(t, "JPEG", r.URL.Query().Get("output_format"))
		file, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		raw, _ := io.ReadAll(file)
		assert.Equal(t, "IMG_0001.HEIC", hdr.Filename)
		assert.Equal(t, "heic-bytes", string(raw))
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := NewRemoteConverter(srv.URL+"/", srv.Client())
	out, err := c.Convert(context.Background(), &model.PendingFile{Name: "IMG_0001.HEIC", Source: model.BytesSource([]byte("heic-bytes"))})
	require.NoError(t, err)
	assert.Equal(t, "IMG_0001.jpg", out.Name)
	assert.Equal(t, "image/jpeg", out.Type)
	assert.Equal(t, "jpeg-bytes", string(out.Data))
}

func TestRemoteConverter_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported file", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewRemoteConverter(srv.URL, srv.Client()).Convert(context.Background(), &model.PendingFile{Name: "a.heic", Source: model.BytesSource([]byte("x"))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file")
}

func TestLocalReencoder(t *testing.T) {
	data := encodePNG(t, solid(8, 6))
	out, err := NewLocalReencoder().Convert(context.Background(), &model.PendingFile{Name: "shot.heic", Source: model.BytesSource(data)})
	require.NoError(t, err)
	assert.Equal(t, "shot.jpg", out.Name)

	img, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestLocalReencoder_Undecodable(t *testing.T) {
	_, err := NewLocalReencoder().Convert(context.Background(), &model.PendingFile{Name: "real.heic", Source: model.BytesSource([]byte("ftypheic"))})
	assert.Error(t, err)
}

func TestCompressor_ScalesDown(t *testing.T) {
	data := encodeJPEG(t, solid(2000, 1000))
	out, err := NewCompressor().Compress(context.Background(), &model.PendingFile{Name: "a.jpg", Size: int64(len(data)), Source: model.BytesSource(data)})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 1000, img.Bounds().Dx())
	assert.Equal(t, 500, img.Bounds().Dy())
}

func TestCompressor_RefusesOversizedDimensions(t *testing.T) {
	data := encodeJPEG(t, solid(200, 100))
	c := &compressor{maxW: MaxWidth, maxH: MaxHeight, maxPixels: 10_000, quality: 80}
	out, err := c.Compress(context.Background(), &model.PendingFile{Name: "bomb.jpg", Size: int64(len(data)), Source: model.BytesSource(data)})
	assert.ErrorIs(t, err, ErrTooManyPixels)
	assert.Nil(t, out)
}

func TestFit(t *testing.T) {
	cases := []struct{ w, h, ww, wh int }{
		{800, 600, 800, 600},
		{2000, 1000, 1000, 500},
		{1000, 3000, 333, 1000},
		{1000, 1000, 1000, 1000},
	}
	for _, c := range cases {
		w, h := fit(c.w, c.h, MaxWidth, MaxHeight)
		assert.Equal(t, []int{c.ww, c.wh}, []int{w, h}, "%dx%d", c.w, c.h)
	}
}
