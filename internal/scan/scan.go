package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/img2psd/internal/domain"
)

const (
	ErrCodeNoImagesFound          = "no_images_found"
	ErrCodeDirectoryCountMismatch = "directory_count_mismatch"
	ErrCodeImageNotFound          = "image_not_found"
	ErrCodeIOFailed               = "io_failed"
)

var (
	ErrNoImagesFound          = errors.New("目录中没有可用图片")
	ErrDirectoryCountMismatch = errors.New("两个目录的图片数量不一致")
	ErrImageNotFound          = errors.New("找不到配对图片")
)

// DirError 把目录级错误（读取失败 / 没有图片）与目录路径绑定。
type DirError struct {
	Dir string
	Err error
}

func (e *DirError) Error() string {
	return fmt.Sprintf("%q：%v", e.Dir, e.Err)
}

func (e *DirError) Unwrap() error { return e.Err }

// CountMismatchError 表示两个目录的可用图片数量不同。
type CountMismatchError struct {
	DirA   string
	CountA int
	DirB   string
	CountB int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("%v：%q 有 %d 张，%q 有 %d 张", ErrDirectoryCountMismatch, e.DirA, e.CountA, e.DirB, e.CountB)
}

func (e *CountMismatchError) Is(target error) bool { return target == ErrDirectoryCountMismatch }

// ImageNotFoundError 表示 Dir 中没有 stem 为 Stem 的可用图片。
type ImageNotFoundError struct {
	Dir  string
	Stem string
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("%v（%s）：%q", ErrImageNotFound, e.Stem, e.Dir)
}

func (e *ImageNotFoundError) Is(target error) bool { return target == ErrImageNotFound }

// Code 把扫描/配对错误映射为稳定的 error_code；nil 返回空串。
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoImagesFound):
		return ErrCodeNoImagesFound
	case errors.Is(err, ErrDirectoryCountMismatch):
		return ErrCodeDirectoryCountMismatch
	case errors.Is(err, ErrImageNotFound):
		return ErrCodeImageNotFound
	default:
		return ErrCodeIOFailed
	}
}

// IsAcceptedExt 判断扩展名是否在允许列表内（区分大小写，精确匹配）。
func IsAcceptedExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// Key 返回文件名对应的配对键：去掉扩展名后统一小写。
func Key(name string) string {
	return strings.ToLower(stem(name))
}

// ListImages 按目录枚举顺序返回 dir 下的可用图片（只看直接子项，不递归）。
//
// 枚举顺序即 os.ReadDir 的顺序（按文件名字典序），因此在不同平台/文件系统上保持一致。
// 没有可用图片时不报错，返回空切片；由调用方决定是否视为 NoImagesFound。
func ListImages(dir string) ([]domain.SourceEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &DirError{Dir: dir, Err: err}
	}

	out := make([]domain.SourceEntry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if !IsAcceptedExt(ext) {
			continue
		}
		path := filepath.Join(dir, name)
		ok, err := isRegular(path, e)
		if err != nil {
			return nil, &DirError{Dir: dir, Err: err}
		}
		if !ok {
			continue
		}
		s := stem(name)
		out = append(out, domain.SourceEntry{
			Path: path,
			Name: name,
			Stem: s,
			Ext:  ext,
			Key:  strings.ToLower(s),
		})
	}
	return out, nil
}

// CountImages 返回 dir 下可用图片数量；为 0 时返回 ErrNoImagesFound。
func CountImages(dir string) (int, error) {
	entries, err := ListImages(dir)
	if err != nil {
		return 0, err
	}
	return countOf(dir, entries)
}

// ImageAt 返回枚举顺序中第 index 个可用图片；越界时返回 ErrNoImagesFound。
func ImageAt(dir string, index int) (domain.SourceEntry, error) {
	entries, err := ListImages(dir)
	if err != nil {
		return domain.SourceEntry{}, err
	}
	return imageAt(dir, entries, index)
}

// FindMatch 返回 dir 中第一个配对键与 stem 相同的可用图片。
func FindMatch(dir, stem string) (domain.SourceEntry, error) {
	entries, err := ListImages(dir)
	if err != nil {
		return domain.SourceEntry{}, err
	}
	return findMatch(dir, entries, stem)
}

// ValidateCounts 校验两个目录的可用图片数量相等且非零，并返回该数量。
func ValidateCounts(dirA, dirB string) (int, error) {
	as, err := ListImages(dirA)
	if err != nil {
		return 0, err
	}
	bs, err := ListImages(dirB)
	if err != nil {
		return 0, err
	}
	return validateCounts(dirA, as, dirB, bs)
}

// Pair 在任何任务开始前一次性算出全部配对。
//
// 规则：
// - 任一目录没有可用图片：ErrNoImagesFound
// - 数量不一致：ErrDirectoryCountMismatch
// - A 中某个条目在 B 中找不到配对键相同的图片：ErrImageNotFound（整个 run 失败，不跳过）
// - 配对顺序为 A 的枚举顺序；B 中取枚举顺序里的第一个匹配
//
// 每个目录只枚举一次，之后的计数/取值/匹配都基于同一份快照。
func Pair(dirA, dirB string) ([]domain.ImagePair, error) {
	as, err := ListImages(dirA)
	if err != nil {
		return nil, err
	}
	bs, err := ListImages(dirB)
	if err != nil {
		return nil, err
	}
	n, err := validateCounts(dirA, as, dirB, bs)
	if err != nil {
		return nil, err
	}

	pairs := make([]domain.ImagePair, 0, n)
	for i := 0; i < n; i++ {
		a, err := imageAt(dirA, as, i)
		if err != nil {
			return nil, err
		}
		b, err := findMatch(dirB, bs, a.Stem)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.ImagePair{
			Index:      i,
			A:          a,
			B:          b,
			OutputName: a.Stem + domain.DocExt,
		})
	}
	return pairs, nil
}

func countOf(dir string, entries []domain.SourceEntry) (int, error) {
	if len(entries) == 0 {
		return 0, &DirError{Dir: dir, Err: ErrNoImagesFound}
	}
	return len(entries), nil
}

func imageAt(dir string, entries []domain.SourceEntry, index int) (domain.SourceEntry, error) {
	if index < 0 || index >= len(entries) {
		return domain.SourceEntry{}, &DirError{Dir: dir, Err: ErrNoImagesFound}
	}
	return entries[index], nil
}

func findMatch(dir string, entries []domain.SourceEntry, stem string) (domain.SourceEntry, error) {
	if e, ok := firstMatch(entries, strings.ToLower(stem)); ok {
		return e, nil
	}
	return domain.SourceEntry{}, &ImageNotFoundError{Dir: dir, Stem: stem}
}

func validateCounts(dirA string, as []domain.SourceEntry, dirB string, bs []domain.SourceEntry) (int, error) {
	a, err := countOf(dirA, as)
	if err != nil {
		return 0, err
	}
	b, err := countOf(dirB, bs)
	if err != nil {
		return 0, err
	}
	if a != b {
		return 0, &CountMismatchError{DirA: dirA, CountA: a, DirB: dirB, CountB: b}
	}
	return a, nil
}

func firstMatch(entries []domain.SourceEntry, key string) (domain.SourceEntry, bool) {
	for _, e := range entries {
		if e.Key == key {
			return e, true
		}
	}
	return domain.SourceEntry{}, false
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// isRegular 判断目录项是否为普通文件；符号链接按其目标判断。
func isRegular(path string, e fs.DirEntry) (bool, error) {
	if e.Type()&fs.ModeSymlink == 0 {
		return e.Type().IsRegular(), nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 悬空链接：当作不存在。
			return false, nil
		}
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}
