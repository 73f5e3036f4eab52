package domain

// DocExt 是输出文档的扩展名（固定为 PSD）。
const DocExt = ".psd"

// SourceEntry 描述一次目录扫描得到的图片文件（只做 stat，不读内容）。
//
// 不变量：
// - Path 为 dir 与文件名的 Join（不做 Abs，保持调用方传入的形态）
// - Key 是配对键：去掉扩展名后的 stem，再统一小写
type SourceEntry struct {
	Path string
	Name string // 文件名（含扩展名）
	Stem string // 文件名去掉扩展名
	Ext  string // ".png"（原样，区分大小写）
	Key  string
}

// ImagePair 是一次配对的结果：A 目录中的一个条目 + B 目录中配对键相同的条目。
type ImagePair struct {
	Index int // 在 A 目录枚举顺序中的位置

	A SourceEntry
	B SourceEntry

	// OutputName 是输出文档文件名：A 的 stem + DocExt。
	OutputName string
}
