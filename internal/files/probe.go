package files

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"os/exec"

	_ "image/gif"
	_ "image/png"

	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
)

type probeResult struct {
	contentType string
	width       *int
	height      *int
}

// probe sniffs an upload's content type and extracts media dimensions. For
// JPEGs the blob at path is re-encoded in place to strip metadata. Non-media
// content is only allowed in the attachments bucket.
func probe(path string, data []byte, bucket, name string) (probeResult, error) {
	contentType := sniffContentType(data)
	res := probeResult{contentType: contentType}

	switch contentType {
	case "image/gif", "image/jpeg", "image/png", "image/webp":
		if contentType == "image/jpeg" {
			stripped, err := stripJPEG(data)
			if err != nil {
				log.Error().Err(err).Str("name", name).Msg("failed to strip jpeg metadata")
				return probeResult{}, apierror.Server("Failed to strip file metadata")
			}
			if err := os.WriteFile(path, stripped, 0o644); err != nil {
				log.Error().Err(err).Str("name", name).Msg("failed to rewrite stripped jpeg")
				return probeResult{}, apierror.Server("Failed to strip file metadata")
			}
			data = stripped
		}
		res.width, res.height = imageDims(contentType, data)
	case "video/mp4", "video/webm", "video/quicktime":
		if bucket != "attachments" {
			return probeResult{}, apierror.Validation("content_type",
				"Non attachment buckets can only have images and gifs")
		}
		width, height, err := videoDims(path)
		if err != nil {
			log.Error().Err(err).Str("name", name).Msg("failed to probe video metadata")
			return probeResult{}, apierror.Server("Failed to strip file metadata")
		}
		res.width, res.height = width, height
	default:
		if bucket != "attachments" {
			return probeResult{}, apierror.Validation("content_type",
				"Non attachment buckets can only have images and gifs")
		}
	}
	return res, nil
}

// sniffContentType detects a blob's type by magic bytes. The stdlib sniffer
// covers everything needed except QuickTime, whose ftyp brand is checked by
// hand.
func sniffContentType(data []byte) string {
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		if bytes.HasPrefix(data[8:12], []byte("qt")) {
			return "video/quicktime"
		}
	}
	contentType := http.DetectContentType(data)
	// Trim the charset parameter from text types.
	if i := bytes.IndexByte([]byte(contentType), ';'); i != -1 {
		contentType = contentType[:i]
	}
	return contentType
}

// stripJPEG re-encodes a JPEG, dropping EXIF and other metadata.
func stripJPEG(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// imageDims reads image dimensions from the header without decoding pixels.
func imageDims(contentType string, data []byte) (*int, *int) {
	if contentType == "image/webp" {
		return webpDims(data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	return &cfg.Width, &cfg.Height
}

// webpDims parses the VP8/VP8L/VP8X chunk headers of a WebP container.
func webpDims(data []byte) (*int, *int) {
	if len(data) < 30 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		return nil, nil
	}
	switch string(data[12:16]) {
	case "VP8X":
		w := int(le24(data[24:27])) + 1
		h := int(le24(data[27:30])) + 1
		return &w, &h
	case "VP8 ":
		// Lossy: the keyframe header carries 14-bit dimensions after the
		// 0x9D012A sync code.
		if data[23] != 0x9D || data[24] != 0x01 || data[25] != 0x2A {
			return nil, nil
		}
		w := int(binary.LittleEndian.Uint16(data[26:28]) & 0x3FFF)
		h := int(binary.LittleEndian.Uint16(data[28:30]) & 0x3FFF)
		return &w, &h
	case "VP8L":
		if data[20] != 0x2F {
			return nil, nil
		}
		bits := binary.LittleEndian.Uint32(data[21:25])
		w := int(bits&0x3FFF) + 1
		h := int((bits>>14)&0x3FFF) + 1
		return &w, &h
	}
	return nil, nil
}

func le24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// videoDims shells out to ffprobe for the first video stream's dimensions.
func videoDims(path string) (*int, *int, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path).Output()
	if err != nil {
		return nil, nil, err
	}
	var probed struct {
		Streams []struct {
			Width  *int `json:"width"`
			Height *int `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, nil, err
	}
	for _, stream := range probed.Streams {
		if stream.Width != nil && stream.Height != nil {
			return stream.Width, stream.Height, nil
		}
	}
	return nil, nil, nil
}
