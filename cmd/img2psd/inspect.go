package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/oov/psd"

	"github.com/John-Robertt/img2psd/internal/infra/history"
)

func inspectCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 || isHelp(args[0]) {
		fmt.Fprintln(stderr, "用法：img2psd inspect <file.psd>")
		if len(args) == 1 {
			return 0
		}
		return 2
	}

	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "打开文件失败：%v\n", err)
		return 1
	}
	defer f.Close()

	doc, _, err := psd.Decode(f, &psd.DecodeOptions{})
	if err != nil {
		fmt.Fprintf(stderr, "解析 %q 失败：%v\n", args[0], err)
		return 1
	}

	cfg := doc.Config
	fmt.Fprintf(stdout, "file: %s\n", args[0])
	fmt.Fprintf(stdout, "mode: %s  size: %dx%d  depth: %d  layers: %d\n",
		modeName(cfg.ColorMode), cfg.Rect.Dx(), cfg.Rect.Dy(), cfg.Depth, len(doc.Layer))

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for i, l := range doc.Layer {
		fmt.Fprintf(tw, "  [%d]\t%s\t%dx%d\tchannels=%d\n", i, l.Name, l.Rect.Dx(), l.Rect.Dy(), len(l.Channel))
	}
	_ = tw.Flush()
	return 0
}

func modeName(m psd.ColorMode) string {
	switch m {
	case psd.ColorModeGrayscale:
		return "grayscale"
	case psd.ColorModeRGB:
		return "rgb"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func historyCmd(args []string, stdout, stderr io.Writer) int {
	var db, runID string
	limit := 20

	for i := 0; i < len(args); i++ {
		a := args[i]
		name, val, hasVal := strings.Cut(a, "=")
		switch {
		case isHelp(a):
			fmt.Fprintln(stdout, "用法：img2psd history --db FILE [--limit N] [run-id]")
			return 0
		case name == "--db" || name == "--limit":
			if !hasVal {
				if i+1 >= len(args) {
					fmt.Fprintf(stderr, "参数错误：%s 需要一个值\n", name)
					return 2
				}
				i++
				val = args[i]
			}
			if name == "--db" {
				db = val
				continue
			}
			n, err := strconv.Atoi(val)
			if err != nil {
				fmt.Fprintf(stderr, "参数错误：--limit 需要整数，实际是 %q\n", val)
				return 2
			}
			limit = n
		case strings.HasPrefix(a, "-"):
			fmt.Fprintf(stderr, "参数错误：未知参数 %q\n", a)
			return 2
		default:
			if runID != "" {
				fmt.Fprintf(stderr, "参数错误：重复的 run-id：%q 与 %q\n", runID, a)
				return 2
			}
			runID = a
		}
	}
	if strings.TrimSpace(db) == "" {
		fmt.Fprintln(stderr, "参数错误：需要 --db FILE")
		return 2
	}
	if _, err := os.Stat(db); err != nil {
		fmt.Fprintf(stderr, "打开历史数据库失败：%v\n", err)
		return 1
	}

	s, err := history.Open(db)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer s.Close()

	ctx := context.Background()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if runID != "" {
		jobs, err := s.JobsFor(ctx, runID)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		fmt.Fprintln(tw, "OUTPUT\tSTATUS\tERROR\tSIZE\tDURATION")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%dms\n", j.Output, j.Status, j.ErrorCode, j.Width, j.Height, j.DurationMS)
		}
		return 0
	}

	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	fmt.Fprintln(tw, "RUN\tSTARTED\tTOTAL\tOK\tFAIL\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Summary.Total, r.Summary.Succeeded, r.Summary.Failed, r.Output)
	}
	return 0
}
