// Package imageproc 读取图片尺寸，并在超出边界时按比例缩小、重新编码。
package imageproc

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels 是解码前允许的像素总数上限（16383×16383）。
// 字节上限约束不了解码后的位图大小，高压缩比的 PNG 可以在几百 KB 内声明上亿像素。
const MaxPixels = 16383 * 16383

var (
	// ErrNoDimensions 表示无法从内容中读出尺寸。
	ErrNoDimensions = errors.New("imageproc: dimensions unavailable")
	// ErrInvalidImage 表示内容与声明的图片格式不符，无法解码。
	ErrInvalidImage = errors.New("imageproc: invalid image data")
	// ErrTooManyPixels 表示图片像素数超过 MaxPixels。
	ErrTooManyPixels = errors.New("imageproc: image exceeds pixel limit")
	// ErrUnsupported 表示没有该格式的解码器。
	ErrUnsupported = errors.New("imageproc: no decoder for format")
)

// Dimensions 是图片的像素尺寸。
type Dimensions struct {
	Width  int
	Height int
}

// Options 控制缩放边界与编码质量。
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// Result 是处理后的图片。
type Result struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
}

// Inspect 只读取尺寸，不解码像素。
func Inspect(data []byte, mimeType string) (Dimensions, error) {
	if mimeType == "image/svg+xml" {
		return inspectSVG(data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, fmt.Errorf("decode image config: %w", err)
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// Fit 计算在 maxW×maxH 内保持宽高比的尺寸，不会放大。
// 边界为 0 或负数时该方向不受限制。
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	ratio := 1.0
	if maxW > 0 && w > maxW {
		ratio = math.Min(ratio, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		ratio = math.Min(ratio, float64(maxH)/float64(h))
	}
	if ratio >= 1 {
		return w, h
	}
	nw := clamp(int(math.Round(float64(w)*ratio)), 1, maxOr(maxW, w))
	nh := clamp(int(math.Round(float64(h)*ratio)), 1, maxOr(maxH, h))
	return nw, nh
}

// Decodable 报告该格式是否有已注册的解码器。svg 与 avif 等格式只能原样存储。
func Decodable(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff":
		return true
	default:
		return false
	}
}

// Resize 在图片超出边界时缩小并重新编码，否则原样返回字节。
// 边界按 EXIF 方向校正后的尺寸判断，返回的宽高也是校正后的。
func Resize(data []byte, mimeType string, opts Options) (Result, error) {
	if !Decodable(mimeType) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	dims, err := Inspect(data, mimeType)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if int64(dims.Width)*int64(dims.Height) > MaxPixels {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, dims.Width, dims.Height)
	}
	if mimeType == "image/jpeg" && swapsAxes(jpegOrientation(data)) {
		dims.Width, dims.Height = dims.Height, dims.Width
	}

	w, h := Fit(dims.Width, dims.Height, opts.MaxWidth, opts.MaxHeight)
	if w == dims.Width && h == dims.Height {
		return Result{Data: data, MIMEType: mimeType, Width: dims.Width, Height: dims.Height}, nil
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := src.Bounds()
	w, h = Fit(bounds.Dx(), bounds.Dy(), opts.MaxWidth, opts.MaxHeight)
	resized := imaging.Resize(src, w, h, imaging.Lanczos)

	format, outMIME := outputFormat(mimeType)
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(quality)); err != nil {
		return Result{}, fmt.Errorf("encode image: %w", err)
	}

	return Result{
		Data:     buf.Bytes(),
		MIMEType: outMIME,
		Width:    resized.Bounds().Dx(),
		Height:   resized.Bounds().Dy(),
		Resized:  true,
	}, nil
}

// ExtensionFor 返回编码格式对应的扩展名，用于输出格式变化时修正文件名。
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ""
	}
}

func outputFormat(mimeType string) (imaging.Format, string) {
	switch mimeType {
	case "image/png":
		return imaging.PNG, "image/png"
	case "image/bmp":
		return imaging.BMP, "image/bmp"
	case "image/tiff":
		return imaging.TIFF, "image/tiff"
	default:
		// webp 没有编码器，与 jpeg 一起输出为 jpeg
		return imaging.JPEG, "image/jpeg"
	}
}

// swapsAxes 报告 EXIF 方向 5 到 8 是否需要交换宽高。
func swapsAxes(orientation int) bool {
	return orientation >= 5 && orientation <= 8
}

// jpegOrientation 从 APP1 Exif 段读取方向标签，缺失或无法解析时返回 1。
func jpegOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 1
	}
	for i := 2; i+4 <= len(data); {
		if data[i] != 0xFF {
			return 1
		}
		marker := data[i+1]
		if marker == 0xFF {
			i++
			continue
		}
		// SOS 之后是图像数据，Exif 只会出现在它之前
		if marker == 0xDA || marker == 0xD9 {
			return 1
		}
		size := int(binary.BigEndian.Uint16(data[i+2:]))
		if size < 2 || i+2+size > len(data) {
			return 1
		}
		seg := data[i+4 : i+2+size]
		if marker == 0xE1 && bytes.HasPrefix(seg, []byte("Exif\x00\x00")) {
			return exifOrientation(seg[6:])
		}
		i += 2 + size
	}
	return 1
}

func exifOrientation(tiff []byte) int {
	if len(tiff) < 8 {
		return 1
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 1
	}
	off := int(order.Uint32(tiff[4:8]))
	if off < 8 || off+2 > len(tiff) {
		return 1
	}
	n := int(order.Uint16(tiff[off:]))
	for e := 0; e < n; e++ {
		p := off + 2 + e*12
		if p+12 > len(tiff) {
			return 1
		}
		if order.Uint16(tiff[p:]) != 0x0112 {
			continue
		}
		if v := int(order.Uint16(tiff[p+8:])); v >= 1 && v <= 8 {
			return v
		}
		return 1
	}
	return 1
}

func inspectSVG(data []byte) (Dimensions, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Dimensions{}, ErrNoDimensions
			}
			return Dimensions{}, fmt.Errorf("parse svg: %w", err)
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if el.Name.Local != "svg" {
			return Dimensions{}, ErrNoDimensions
		}

		var width, height, viewBox string
		for _, attr := range el.Attr {
			switch attr.Name.Local {
			case "width":
				width = attr.Value
			case "height":
				height = attr.Value
			case "viewBox":
				viewBox = attr.Value
			}
		}
		w, wok := parseLength(width)
		h, hok := parseLength(height)
		if wok && hok {
			return Dimensions{Width: w, Height: h}, nil
		}
		if fields := strings.Fields(strings.ReplaceAll(viewBox, ",", " ")); len(fields) == 4 {
			vw, err1 := strconv.ParseFloat(fields[2], 64)
			vh, err2 := strconv.ParseFloat(fields[3], 64)
			if err1 == nil && err2 == nil && vw > 0 && vh > 0 {
				return Dimensions{Width: int(math.Round(vw)), Height: int(math.Round(vh))}, nil
			}
		}
		return Dimensions{}, ErrNoDimensions
	}
}

func parseLength(raw string) (int, bool) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "px")
	if raw == "" || strings.HasSuffix(raw, "%") {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Round(v)), true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxOr(bound, fallback int) int {
	if bound > 0 {
		return bound
	}
	return fallback
}
