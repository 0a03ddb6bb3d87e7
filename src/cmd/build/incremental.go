package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// getDevBinaryName 返回开发版二进制文件名（不包含架构，便于跨平台调试）
func getDevBinaryName() string {
	goHostOS, _ := targetPlatform()
	if goHostOS == "windows" {
		return "dbmirror-dev.exe"
	}
	return "dbmirror-dev"
}

// BuildDevIncremental 只在源码比 bin/dbmirror-dev 新时重新编译
// 比较文件修改时间而不是校验和，返回 true 表示进行了编译
func BuildDevIncremental() (bool, error) {
	binaryPath := "bin/" + getDevBinaryName()

	binaryInfo, err := os.Stat(binaryPath)
	if err != nil {
		fmt.Printf("[增量构建] 无法访问二进制文件: %v，需要编译\n", err)
		return true, BuildGoBinaryWithOutput(true, binaryPath)
	}

	if needsRebuild, reason := checkSourcesNewer(".", binaryInfo.ModTime()); needsRebuild {
		fmt.Printf("[增量构建] %s，需要重新编译\n", reason)
		return true, BuildGoBinaryWithOutput(true, binaryPath)
	}

	fmt.Println("[增量构建] 源码无变化，跳过编译")
	return false, nil
}

// checkSourcesNewer 检查 root 下是否有源文件比 targetModTime 更新
// 除 .go 文件外，嵌入的 SQL 迁移脚本变化也需要重新编译
func checkSourcesNewer(root string, targetModTime time.Time) (bool, string) {
	for _, file := range []string{"go.mod", "go.sum"} {
		info, err := os.Stat(filepath.Join(root, file))
		if err != nil {
			continue
		}
		if info.ModTime().After(targetModTime) {
			return true, fmt.Sprintf("%s 已更新", file)
		}
	}

	var newerFile string
	err := filepath.WalkDir(filepath.Join(root, "src"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, ".sql") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(targetModTime) {
			newerFile = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		// 遍历出错，保守起见重新编译
		return true, "无法遍历源码目录"
	}
	if newerFile != "" {
		return true, fmt.Sprintf("%s 已更新", newerFile)
	}
	return false, ""
}
