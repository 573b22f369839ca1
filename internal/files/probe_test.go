package files

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestProbePNG(t *testing.T) {
	data := pngBytes(t, 12, 34)
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res, err := probe(path, data, "avatars", "pic.png")
	require.NoError(t, err)
	require.Equal(t, "image/png", res.contentType)
	require.NotNil(t, res.width)
	require.NotNil(t, res.height)
	require.Equal(t, 12, *res.width)
	require.Equal(t, 34, *res.height)
}

func TestProbeJPEGRewritesBlob(t *testing.T) {
	data := jpegBytes(t, 8, 6)
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res, err := probe(path, data, "attachments", "pic.jpg")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", res.contentType)
	require.Equal(t, 8, *res.width)
	require.Equal(t, 6, *res.height)

	// The blob on disk is the re-encoded one and still decodes.
	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rewritten))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Width)
}

func TestProbeRejectsNonMediaOutsideAttachments(t *testing.T) {
	data := []byte("hello, world")
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := probe(path, data, "avatars", "note.txt")
	require.Error(t, err)

	res, err := probe(path, data, "attachments", "note.txt")
	require.NoError(t, err)
	require.Equal(t, "text/plain", res.contentType)
	require.Nil(t, res.width)
}

func TestSniffContentType(t *testing.T) {
	qt := make([]byte, 16)
	binary.BigEndian.PutUint32(qt[0:4], 16)
	copy(qt[4:8], "ftyp")
	copy(qt[8:12], "qt  ")
	require.Equal(t, "video/quicktime", sniffContentType(qt))

	require.Equal(t, "image/png", sniffContentType(pngBytes(t, 1, 1)))
	require.Equal(t, "text/plain", sniffContentType([]byte("plain text")))
}

func webpHeader(chunk string, payload []byte) []byte {
	buf := make([]byte, 0, 30+len(payload))
	buf = append(buf, "RIFF"...)
	buf = append(buf, make([]byte, 4)...)
	buf = append(buf, "WEBP"...)
	buf = append(buf, chunk...)
	buf = append(buf, make([]byte, 4)...)
	buf = append(buf, payload...)
	if len(buf) < 30 {
		buf = append(buf, make([]byte, 30-len(buf))...)
	}
	return buf
}

func TestWebpDims(t *testing.T) {
	// VP8X stores width-1/height-1 as 24-bit little endian at offsets 24/27.
	vp8x := webpHeader("VP8X", make([]byte, 14))
	vp8x[24], vp8x[25], vp8x[26] = 0x1F, 0x00, 0x00 // 31 -> width 32
	vp8x[27], vp8x[28], vp8x[29] = 0x3F, 0x00, 0x00 // 63 -> height 64
	w, h := webpDims(vp8x)
	require.NotNil(t, w)
	require.Equal(t, 32, *w)
	require.Equal(t, 64, *h)

	// Lossy VP8: sync code then 14-bit dimensions.
	vp8 := webpHeader("VP8 ", make([]byte, 14))
	vp8[23], vp8[24], vp8[25] = 0x9D, 0x01, 0x2A
	binary.LittleEndian.PutUint16(vp8[26:28], 100)
	binary.LittleEndian.PutUint16(vp8[28:30], 50)
	w, h = webpDims(vp8)
	require.NotNil(t, w)
	require.Equal(t, 100, *w)
	require.Equal(t, 50, *h)

	// Lossless VP8L: signature byte then packed 14-bit fields.
	vp8l := webpHeader("VP8L", make([]byte, 14))
	vp8l[20] = 0x2F
	bits := uint32(199) | uint32(299)<<14 // width 200, height 300
	binary.LittleEndian.PutUint32(vp8l[21:25], bits)
	w, h = webpDims(vp8l)
	require.NotNil(t, w)
	require.Equal(t, 200, *w)
	require.Equal(t, 300, *h)

	w, h = webpDims([]byte("not a webp"))
	require.Nil(t, w)
	require.Nil(t, h)
}
