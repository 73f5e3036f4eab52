package scan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestListImages_FiltersExtAndDirs(t *testing.T) {
	dir := t.TempDir()

	touch(t, filepath.Join(dir, "b.png"))
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "c.jpeg"))
	touch(t, filepath.Join(dir, "note.txt"))
	touch(t, filepath.Join(dir, "UPPER.PNG")) // 扩展名区分大小写，不接受
	touch(t, filepath.Join(dir, "sub.png", "x.png"))

	got, err := ListImages(dir)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []string{"a.jpg", "b.png", "c.jpeg"}
	if len(got) != len(want) {
		t.Fatalf("期望 %d 个图片，实际 %d：%+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Name != w {
			t.Fatalf("第 %d 个期望 %q，实际 %q", i, w, got[i].Name)
		}
	}
	if got[0].Stem != "a" || got[0].Ext != ".jpg" || got[0].Key != "a" {
		t.Fatalf("条目字段不符合预期：%+v", got[0])
	}
}

func TestCountImages_Empty(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "readme.md"))

	_, err := CountImages(dir)
	if !errors.Is(err, ErrNoImagesFound) {
		t.Fatalf("期望 ErrNoImagesFound，实际：%v", err)
	}
	if Code(err) != ErrCodeNoImagesFound {
		t.Fatalf("期望 code=%q，实际 %q", ErrCodeNoImagesFound, Code(err))
	}
}

func TestCountImages_MissingDir(t *testing.T) {
	_, err := CountImages(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if Code(err) != ErrCodeIOFailed {
		t.Fatalf("期望 code=%q，实际 %q（err=%v）", ErrCodeIOFailed, Code(err), err)
	}
}

func TestImageAt(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "b.png"))

	e, err := ImageAt(dir, 1)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if e.Name != "b.png" {
		t.Fatalf("期望 b.png，实际 %q", e.Name)
	}

	if _, err := ImageAt(dir, 2); !errors.Is(err, ErrNoImagesFound) {
		t.Fatalf("越界期望 ErrNoImagesFound，实际：%v", err)
	}
}

func TestFindMatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Photo.jpg"))
	touch(t, filepath.Join(dir, "other.png"))

	e, err := FindMatch(dir, "photo")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if e.Name != "Photo.jpg" {
		t.Fatalf("期望 Photo.jpg，实际 %q", e.Name)
	}

	_, err = FindMatch(dir, "missing")
	var nf *ImageNotFoundError
	if !errors.As(err, &nf) || nf.Stem != "missing" {
		t.Fatalf("期望 ImageNotFoundError(stem=missing)，实际：%T %v", err, err)
	}
	if Code(err) != ErrCodeImageNotFound {
		t.Fatalf("期望 code=%q，实际 %q", ErrCodeImageNotFound, Code(err))
	}
}

func TestValidateCounts_Mismatch(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(a, "1.png"))
	touch(t, filepath.Join(a, "2.png"))
	touch(t, filepath.Join(a, "3.png"))
	touch(t, filepath.Join(b, "1.png"))
	touch(t, filepath.Join(b, "2.png"))

	_, err := ValidateCounts(a, b)
	var cm *CountMismatchError
	if !errors.As(err, &cm) {
		t.Fatalf("期望 CountMismatchError，实际：%T %v", err, err)
	}
	if cm.CountA != 3 || cm.CountB != 2 {
		t.Fatalf("计数不符合预期：%+v", cm)
	}
	if !errors.Is(err, ErrDirectoryCountMismatch) {
		t.Fatalf("期望 errors.Is(ErrDirectoryCountMismatch)")
	}
}

func TestPair_MatchesByStem(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(a, "a.png"))
	touch(t, filepath.Join(a, "b.png"))
	touch(t, filepath.Join(b, "b.jpg"))
	touch(t, filepath.Join(b, "A.png"))

	pairs, err := Pair(a, b)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("期望 2 对，实际 %d", len(pairs))
	}
	for i, p := range pairs {
		if p.Index != i {
			t.Fatalf("index 不符合预期：%d != %d", p.Index, i)
		}
		if p.A.Key != p.B.Key {
			t.Fatalf("配对键不一致：%+v", p)
		}
	}
	if pairs[0].B.Name != "A.png" || pairs[0].OutputName != "a.psd" {
		t.Fatalf("第一对不符合预期：%+v", pairs[0])
	}
	if pairs[1].B.Name != "b.jpg" || pairs[1].OutputName != "b.psd" {
		t.Fatalf("第二对不符合预期：%+v", pairs[1])
	}
}

func TestPair_AgreesWithIndexedLookup(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	for _, n := range []string{"c.png", "a.jpeg", "b.png"} {
		touch(t, filepath.Join(a, n))
	}
	for _, n := range []string{"B.png", "a.png", "C.jpg"} {
		touch(t, filepath.Join(b, n))
	}

	pairs, err := Pair(a, b)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	n, err := ValidateCounts(a, b)
	if err != nil || n != len(pairs) {
		t.Fatalf("ValidateCounts 与 Pair 不一致：n=%d pairs=%d err=%v", n, len(pairs), err)
	}
	for i, p := range pairs {
		at, err := ImageAt(a, i)
		if err != nil || at.Path != p.A.Path {
			t.Fatalf("第 %d 对的 A 应等于 ImageAt：%+v vs %+v (%v)", i, p.A, at, err)
		}
		m, err := FindMatch(b, at.Stem)
		if err != nil || m.Path != p.B.Path {
			t.Fatalf("第 %d 对的 B 应等于 FindMatch：%+v vs %+v (%v)", i, p.B, m, err)
		}
	}
}

func TestPair_Errors(t *testing.T) {
	t.Run("A 为空", func(t *testing.T) {
		a, b := t.TempDir(), t.TempDir()
		touch(t, filepath.Join(b, "x.png"))
		if _, err := Pair(a, b); !errors.Is(err, ErrNoImagesFound) {
			t.Fatalf("期望 ErrNoImagesFound，实际：%v", err)
		}
	})
	t.Run("B 为空", func(t *testing.T) {
		a, b := t.TempDir(), t.TempDir()
		touch(t, filepath.Join(a, "x.png"))
		if _, err := Pair(a, b); !errors.Is(err, ErrNoImagesFound) {
			t.Fatalf("期望 ErrNoImagesFound，实际：%v", err)
		}
	})
	t.Run("数量不一致", func(t *testing.T) {
		a, b := t.TempDir(), t.TempDir()
		touch(t, filepath.Join(a, "x.png"))
		touch(t, filepath.Join(a, "y.png"))
		touch(t, filepath.Join(b, "x.png"))
		if _, err := Pair(a, b); !errors.Is(err, ErrDirectoryCountMismatch) {
			t.Fatalf("期望 ErrDirectoryCountMismatch，实际：%v", err)
		}
	})
	t.Run("找不到配对", func(t *testing.T) {
		a, b := t.TempDir(), t.TempDir()
		touch(t, filepath.Join(a, "x.png"))
		touch(t, filepath.Join(b, "y.png"))
		_, err := Pair(a, b)
		var nf *ImageNotFoundError
		if !errors.As(err, &nf) || nf.Stem != "x" {
			t.Fatalf("期望 ImageNotFoundError(stem=x)，实际：%v", err)
		}
	})
}

func TestKey(t *testing.T) {
	if got := Key("Photo.Final.JPG"); got != "photo.final" {
		t.Fatalf("Key 不符合预期：%q", got)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
