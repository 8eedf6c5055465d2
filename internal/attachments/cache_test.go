package attachments

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/storage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompressBoundsDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		limit        int
		wantW, wantH int
	}{
		{"landscape", 3200, 1600, 1600, 1600, 800},
		{"portrait", 900, 2400, 1600, 600, 1600},
		{"square", 2000, 2000, 1600, 1600, 1600},
		{"odd ratio rounds", 1000, 333, 500, 500, 167},
		{"already small", 640, 480, 1600, 640, 480},
		{"tiny side never zero", 4000, 1, 100, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Compress(pngBytes(t, tt.w, tt.h), tt.limit, DefaultQuality, DefaultMaxPixels)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, out.Width)
			assert.Equal(t, tt.wantH, out.Height)

			decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
			require.NoError(t, err, "output is always JPEG")
			assert.Equal(t, tt.wantW, decoded.Bounds().Dx())
			assert.Equal(t, tt.wantH, decoded.Bounds().Dy())
			assert.LessOrEqual(t, max(out.Width, out.Height), tt.limit)
		})
	}
}

func TestCompressRejectsGarbage(t *testing.T) {
	_, err := Compress([]byte("not an image"), DefaultMaxDimension, DefaultQuality, DefaultMaxPixels)
	assert.Error(t, err)
}

// pngHeader is a PNG signature plus an IHDR chunk declaring w x h RGBA
// pixels, with no image data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

func TestCompressRejectsHugeDeclaredSize(t *testing.T) {
	header := pngHeader(50000, 50000)
	_, err := Compress(header, DefaultMaxDimension, DefaultQuality, DefaultMaxPixels)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	// Within budget the header passes and decoding fails on the missing data.
	_, err = Compress(pngHeader(10, 10), DefaultMaxDimension, DefaultQuality, DefaultMaxPixels)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageTooLarge)
}

func TestCacheAddEnforcesPixelBudget(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, storage.NewMemory(), WithMaxPixels(100*100))

	_, err := c.Add(ctx, "ts1", 1, "big.png", "image/png", pngBytes(t, 200, 100))
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.Zero(t, c.Count("ts1", 1))

	_, err = c.Add(ctx, "ts1", 1, "ok.png", "image/png", pngBytes(t, 100, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count("ts1", 1))
}

func TestCacheAddListRemove(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	c := New(ctx, kv, WithMaxDimension(100))

	h, err := c.Add(ctx, "ts1", 2, "a.png", "image/png", pngBytes(t, 400, 200))
	require.NoError(t, err)
	assert.Equal(t, Handle{SessionID: "ts1", StepNumber: 2, Index: 0}, h)

	h, err = c.Add(ctx, "ts1", 2, "", "image/png", pngBytes(t, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, h.Index)

	list := c.List("ts1", 2)
	require.Len(t, list, 2)
	assert.Equal(t, "image/jpeg", list[0].MimeType)
	assert.Equal(t, 100, list[0].Width)
	assert.Equal(t, 50, list[0].Height)
	assert.Equal(t, "step-2.jpg", list[1].Name)
	assert.Equal(t, []int{2}, c.Steps("ts1"))

	require.NoError(t, c.Remove(ctx, "ts1", 2, 0))
	assert.Equal(t, 1, c.Count("ts1", 2))
	assert.ErrorIs(t, c.Remove(ctx, "ts1", 2, 5), ErrNoAttachment)

	require.NoError(t, c.Remove(ctx, "ts1", 2, 0))
	assert.Empty(t, c.Steps("ts1"))
	assert.Empty(t, c.Sessions())
}

func TestCacheRejectsNonImage(t *testing.T) {
	c := New(context.Background(), storage.NewMemory())
	_, err := c.Add(context.Background(), "ts1", 1, "doc.pdf", "application/pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrNotImage)
	assert.Zero(t, c.Count("ts1", 1))
}

func TestCacheWriteThrough(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	c := New(ctx, kv)
	_, err := c.Add(ctx, "ts1", 1, "a.png", "image/png", pngBytes(t, 20, 20))
	require.NoError(t, err)
	_, err = c.Add(ctx, "ts2", 3, "b.png", "image/png", pngBytes(t, 20, 20))
	require.NoError(t, err)

	reloaded := New(ctx, kv)
	assert.Equal(t, 1, reloaded.Count("ts1", 1))
	assert.Equal(t, []string{"ts1", "ts2"}, reloaded.Sessions())
	assert.Equal(t, c.List("ts1", 1)[0].Data, reloaded.List("ts1", 1)[0].Data)

	require.NoError(t, c.Evict(ctx, "ts1"))
	reloaded = New(ctx, kv)
	assert.Equal(t, []string{"ts2"}, reloaded.Sessions())
}

type failingKV struct{ storage.KV }

func (failingKV) Set(context.Context, string, []byte) error { return errors.New("quota exceeded") }

func TestCacheDegradesWhenStorageFails(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, failingKV{KV: storage.NewMemory()})

	_, err := c.Add(ctx, "ts1", 1, "a.png", "image/png", pngBytes(t, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count("ts1", 1), "attachment stays in memory")
}

func TestCacheIgnoresCorruptPersistedData(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, StorageKey, []byte("{broken")))
	c := New(ctx, kv)
	assert.Empty(t, c.Sessions())
}
