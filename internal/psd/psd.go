// Package psd 写出最小可用的分层 PSD 文档（版本 1，8 位，灰度/RGB，无压缩）。
//
// 只覆盖本工具需要的子集：若干个与画布同尺寸的像素图层 + 合成图。
// 图层记录按“自底向上”存放：第一个 AddLayer 的图层在最底层。
package psd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"path/filepath"
	"unicode/utf16"

	"golang.org/x/image/draw"

	"github.com/John-Robertt/img2psd/internal/infra/fsx"
	"github.com/John-Robertt/img2psd/internal/infra/imgx"
)

// ColorMode 对应 PSD 文件头里的颜色模式字段。
type ColorMode uint16

const (
	Grayscale ColorMode = 1
	RGB       ColorMode = 3
)

func (m ColorMode) String() string {
	switch m {
	case Grayscale:
		return "grayscale"
	case RGB:
		return "rgb"
	default:
		return fmt.Sprintf("mode(%d)", uint16(m))
	}
}

const (
	// Depth 是每通道位深，固定 8 位。
	Depth = 8
	// MaxSide 是 PSD（非 PSB）允许的最大宽/高。
	MaxSide = 30000

	signature = "8BPS"
	version   = 1

	chanAlpha = -1

	// maxSection 是图层信息段允许的最大长度：外层段长 = 4 + 图层信息 + 4，必须放得进 uint32。
	maxSection = math.MaxUint32 - 8
)

var (
	ErrSizeMismatch = errors.New("psd: 图层尺寸与画布不一致")
	ErrUnsupported  = errors.New("psd: 不支持的文档")
	ErrNoLayers     = errors.New("psd: 文档没有图层")
)

// Layer 是一个像素图层。Image 在 AddLayer 后已规范化：
// Grayscale 文档为 *image.Gray，RGB 文档为 *image.NRGBA，原点均为 (0,0)。
type Layer struct {
	Name  string
	Image image.Image
}

// Document 是有序图层容器。
type Document struct {
	Mode   ColorMode
	Width  int
	Height int
	Layers []Layer
}

// New 创建一个空文档。
func New(mode ColorMode) *Document {
	return &Document{Mode: mode}
}

// Channels 返回每个图层的通道数（RGB 含透明通道）。
func (d *Document) Channels() int {
	if d.Mode == Grayscale {
		return 1
	}
	return 4
}

// AddLayer 在最上层追加一个图层。
// 第一个图层决定画布尺寸；之后的图层尺寸必须一致。
func (d *Document) AddLayer(name string, img image.Image) error {
	if img == nil {
		return fmt.Errorf("psd: 图层 %q 的图像为空", name)
	}
	if len(name) > 255 {
		return fmt.Errorf("psd: 图层名过长（%d 字节）", len(name))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || b.Dx() > MaxSide || b.Dy() > MaxSide {
		return fmt.Errorf("%w：图层 %q 尺寸 %dx%d", ErrUnsupported, name, b.Dx(), b.Dy())
	}
	if len(d.Layers) == 0 {
		d.Width, d.Height = b.Dx(), b.Dy()
	} else if b.Dx() != d.Width || b.Dy() != d.Height {
		return fmt.Errorf("%w：图层 %q 为 %dx%d，画布为 %dx%d", ErrSizeMismatch, name, b.Dx(), b.Dy(), d.Width, d.Height)
	}

	switch d.Mode {
	case Grayscale:
		img = imgx.ToGray(img)
	case RGB:
		img = imgx.ToNRGBA(img)
	default:
		return fmt.Errorf("%w：颜色模式 %v", ErrUnsupported, d.Mode)
	}
	d.Layers = append(d.Layers, Layer{Name: name, Image: img})
	return nil
}

// Save 编码并原子写入 path（已存在则覆盖）。
func (d *Document) Save(path string) error {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), buf.Bytes())
}

// Encode 把文档写为 PSD 字节流。
func (d *Document) Encode(w io.Writer) error {
	if len(d.Layers) == 0 {
		return ErrNoLayers
	}
	if d.Mode != Grayscale && d.Mode != RGB {
		return fmt.Errorf("%w：颜色模式 %v", ErrUnsupported, d.Mode)
	}

	if err := checkSectionLength(d.layerInfoSize()); err != nil {
		return err
	}

	var e encoder

	// 文件头。
	e.bytes([]byte(signature))
	e.u16(version)
	e.bytes(make([]byte, 6))
	e.u16(uint16(d.compositeChannels()))
	e.u32(uint32(d.Height))
	e.u32(uint32(d.Width))
	e.u16(Depth)
	e.u16(uint16(d.Mode))

	// 颜色模式数据、图像资源：均为空。
	e.u32(0)
	e.u32(0)

	li := d.layerInfo()
	e.u32(uint32(4 + len(li) + 4))
	e.u32(uint32(len(li)))
	e.bytes(li)
	e.u32(0) // 全局图层蒙版

	// 合成图：无压缩、按通道平面存放。
	e.u16(0)
	for _, plane := range d.compositePlanes() {
		e.bytes(plane)
	}

	_, err := w.Write(e.buf.Bytes())
	return err
}

func (d *Document) compositeChannels() int {
	if d.Mode == Grayscale {
		return 1
	}
	return 3
}

// layerInfoSize 返回 layerInfo 的字节数，不生成通道数据。
func (d *Document) layerInfoSize() int64 {
	nch := int64(d.Channels())
	plane := int64(d.Width) * int64(d.Height)
	n := int64(2)
	for _, l := range d.Layers {
		n += 42 + 6*nch + int64(len(pascal(l.Name, 4))) + int64(len(unicodeName(l.Name)))
		n += nch * (2 + plane)
	}
	if n%2 != 0 {
		n++
	}
	return n
}

func checkSectionLength(n int64) error {
	if n > maxSection {
		return fmt.Errorf("%w：图层数据 %d 字节超出 PSD 上限", ErrUnsupported, n)
	}
	return nil
}

func (d *Document) layerInfo() []byte {
	var e encoder
	e.i16(int16(len(d.Layers)))

	planes := make([][]channel, len(d.Layers))
	for i, l := range d.Layers {
		planes[i] = d.channels(l.Image)
	}

	for i, l := range d.Layers {
		e.i32(0)
		e.i32(0)
		e.i32(int32(d.Height))
		e.i32(int32(d.Width))
		e.u16(uint16(len(planes[i])))
		for _, c := range planes[i] {
			e.i16(c.id)
			e.u32(uint32(2 + len(c.data)))
		}
		e.bytes([]byte("8BIM"))
		e.bytes([]byte("norm"))
		e.u8(255) // opacity
		e.u8(0)   // clipping: base
		e.u8(0)   // flags: 可见
		e.u8(0)   // filler

		name := pascal(l.Name, 4)
		luni := unicodeName(l.Name)
		e.u32(uint32(4 + 4 + len(name) + len(luni)))
		e.u32(0) // 图层蒙版
		e.u32(0) // 混合范围
		e.bytes(name)
		e.bytes(luni)
	}

	for i := range d.Layers {
		for _, c := range planes[i] {
			e.u16(0)
			e.bytes(c.data)
		}
	}

	if e.buf.Len()%2 != 0 {
		e.u8(0)
	}
	return e.buf.Bytes()
}

type channel struct {
	id   int16
	data []byte
}

func (d *Document) channels(img image.Image) []channel {
	n := d.Width * d.Height
	if d.Mode == Grayscale {
		g := img.(*image.Gray)
		return []channel{{id: 0, data: grayPlane(g, d.Width, d.Height)}}
	}

	src := img.(*image.NRGBA)
	out := []channel{
		{id: chanAlpha, data: make([]byte, n)},
		{id: 0, data: make([]byte, n)},
		{id: 1, data: make([]byte, n)},
		{id: 2, data: make([]byte, n)},
	}
	for y := 0; y < d.Height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+d.Width*4]
		for x := 0; x < d.Width; x++ {
			i := y*d.Width + x
			out[1].data[i] = row[x*4]
			out[2].data[i] = row[x*4+1]
			out[3].data[i] = row[x*4+2]
			out[0].data[i] = row[x*4+3]
		}
	}
	return out
}

// compositePlanes 返回合成图各通道：按普通混合自底向上叠加全部图层。
func (d *Document) compositePlanes() [][]byte {
	rect := image.Rect(0, 0, d.Width, d.Height)
	if d.Mode == Grayscale {
		// 灰度图层不透明：合成图就是最上层。
		top := d.Layers[len(d.Layers)-1].Image.(*image.Gray)
		return [][]byte{grayPlane(top, d.Width, d.Height)}
	}

	dst := image.NewNRGBA(rect)
	for _, l := range d.Layers {
		draw.Draw(dst, rect, l.Image, image.Point{}, draw.Over)
	}
	planes := d.channels(dst)
	return [][]byte{planes[1].data, planes[2].data, planes[3].data}
}

func grayPlane(g *image.Gray, w, h int) []byte {
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		copy(out[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
	}
	return out
}

// pascal 编码 Pascal 字符串（长度字节 + 内容），总长补齐到 align 的倍数。
func pascal(s string, align int) []byte {
	b := make([]byte, 0, 1+len(s)+align)
	b = append(b, byte(len(s)))
	b = append(b, s...)
	for len(b)%align != 0 {
		b = append(b, 0)
	}
	return b
}

// unicodeName 编码 "luni" 附加信息块：UTF-16BE 图层名，数据补齐到 4 字节。
func unicodeName(s string) []byte {
	units := utf16.Encode([]rune(s))
	var e encoder
	e.u32(uint32(len(units)))
	for _, u := range units {
		e.u16(u)
	}
	for e.buf.Len()%4 != 0 {
		e.u8(0)
	}
	data := e.buf.Bytes()

	var blk encoder
	blk.bytes([]byte("8BIM"))
	blk.bytes([]byte("luni"))
	blk.u32(uint32(len(data)))
	blk.bytes(data)
	return blk.buf.Bytes()
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) bytes(b []byte) { e.buf.Write(b) }
func (e *encoder) u8(v uint8)     { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16)   { _ = binary.Write(&e.buf, binary.BigEndian, v) }
func (e *encoder) u32(v uint32)   { _ = binary.Write(&e.buf, binary.BigEndian, v) }
func (e *encoder) i16(v int16)    { _ = binary.Write(&e.buf, binary.BigEndian, v) }
func (e *encoder) i32(v int32)    { _ = binary.Write(&e.buf, binary.BigEndian, v) }
