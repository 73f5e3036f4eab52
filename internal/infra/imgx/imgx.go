package imgx

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // 注册 JPEG 解码器
	_ "image/png"  // 注册 PNG 解码器
	"os"

	"golang.org/x/image/draw"
)

// Decode 读取并解码 path 指向的图片。
//
// 约束：
// - 输入允许是 JPEG/PNG（依赖标准库解码器）
// - 返回的 image.Image 归调用方独占，不在任务之间共享
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("解码 %q 失败：%w", path, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}
	return img, nil
}

// SameSize 判断两张图的宽高是否一致。
func SameSize(a, b image.Image) bool {
	ab, bb := a.Bounds(), b.Bounds()
	return ab.Dx() == bb.Dx() && ab.Dy() == bb.Dy()
}

// ResizeNearest 用最近邻插值把 img 缩放为 rows 行、cols 列。
// 最近邻只复用源像素，不会引入新的颜色值；同一输入多次调用结果一致。
func ResizeNearest(img image.Image, rows, cols int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ToNRGBA 把任意图片规范化为 8 位、非预乘的 RGBA（原点为 0,0）。
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// ToGray 把图片转换为 8 位单通道灰度（原点为 0,0）。
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
