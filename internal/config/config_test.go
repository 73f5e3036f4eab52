package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.DirA != filepath.Join(cwd, "a") || eff.DirB != filepath.Join(cwd, "b") {
		t.Fatalf("目录应相对 cwd 解析：%+v", eff)
	}
	if eff.Output != filepath.Join(cwd, DefaultOutput) {
		t.Fatalf("期望默认 output=%q，实际=%q", filepath.Join(cwd, DefaultOutput), eff.Output)
	}
	if eff.Gray {
		t.Fatalf("期望默认 gray=false")
	}
	want := runtime.NumCPU()
	if want > MaxWorkers {
		want = MaxWorkers
	}
	if eff.Workers != want {
		t.Fatalf("期望默认 workers=%d，实际=%d", want, eff.Workers)
	}
	if eff.JobTimeout != 0 || eff.ReportPath != "" || eff.HistoryDB != "" || eff.Color != "auto" {
		t.Fatalf("其他默认值不符合预期：%+v", eff)
	}
}

func TestLoadEffective_MissingDirs(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{DirA: "a"})
	if Code(err) != ErrCodeMissingDirs {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingDirs, err, Code(err))
	}
}

func TestLoadEffective_FileConfigAndCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
dir_a: in/a
dir_b: in/b
output: docs
gray: true
workers: 3
job_timeout: 30s
report: docs/report.json
`))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.DirA != filepath.Join(cwd, "in", "a") || eff.Output != filepath.Join(cwd, "docs") {
		t.Fatalf("配置文件路径解析不符合预期：%+v", eff)
	}
	if !eff.Gray || eff.Workers != 3 || eff.JobTimeout != 30*time.Second {
		t.Fatalf("配置文件字段不符合预期：%+v", eff)
	}
	if eff.ReportPath != filepath.Join(cwd, "docs", "report.json") {
		t.Fatalf("report 路径不符合预期：%q", eff.ReportPath)
	}

	// CLI 显式值覆盖配置文件（包括 --gray=false）。
	eff2, err := LoadEffective(cwd, CLIArgs{
		DirA:       "x",
		Gray:       false,
		GraySet:    true,
		Workers:    1,
		WorkersSet: true,
		Output:     "o",
		OutputSet:  true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff2.DirA != filepath.Join(cwd, "x") || eff2.DirB != filepath.Join(cwd, "in", "b") {
		t.Fatalf("dir 覆盖不符合预期：%+v", eff2)
	}
	if eff2.Gray || eff2.Workers != 1 || eff2.Output != filepath.Join(cwd, "o") {
		t.Fatalf("CLI 覆盖不符合预期：%+v", eff2)
	}
}

func TestLoadEffective_ExplicitConfigRelativeToFile(t *testing.T) {
	cwd := t.TempDir()
	cfgDir := filepath.Join(cwd, "conf")
	writeFile(t, filepath.Join(cfgDir, "job.yaml"), []byte("dir_a: a\ndir_b: b\n"))

	eff, err := LoadEffective(cwd, CLIArgs{ConfigPath: "conf/job.yaml"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.DirA != filepath.Join(cfgDir, "a") {
		t.Fatalf("配置文件中的相对路径应相对配置文件目录：%q", eff.DirA)
	}
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b", ConfigPath: "nope.yaml"})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_InvalidConfig(t *testing.T) {
	cases := map[string]string{
		"语法错误":       "dir_a: [",
		"未知字段":       "dir_a: a\nunknown: 1\n",
		"超时格式错误":     "job_timeout: soon\n",
		"超时为负":       "job_timeout: -1s\n",
		"color 不合法": "color: rainbow\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, FileName), []byte(content))

			_, err := LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b"})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_EmptyConfigFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), nil)

	if _, err := LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b"}); err != nil {
		t.Fatalf("空配置文件不应报错：%v", err)
	}
}

func TestLoadEffective_WorkersClamp(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b", Workers: 1000, WorkersSet: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != MaxWorkers {
		t.Fatalf("期望截断到 %d，实际 %d", MaxWorkers, eff.Workers)
	}

	eff, err = LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b", Workers: -3, WorkersSet: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != 1 {
		t.Fatalf("期望截断到 1，实际 %d", eff.Workers)
	}
}

func TestLoadEffective_EmptyOutputRejected(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{DirA: "a", DirB: "b", OutputSet: true})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
