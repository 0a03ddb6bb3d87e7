// build 是 dbmirror 的构建工具，通过 Makefile 或 go run ./src/cmd/build 调用
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/alecthomas/kingpin"
	log "github.com/sirupsen/logrus"
)

// 全局变量，用于存储命令行参数
var customVersion string

func main() {
	os.Exit(RunCmd(os.Args[1:]))
}

func RunCmd(args []string) int {
	app := kingpin.New("Build tool", "dbmirror Build tool.")

	// dev 命令支持 --version 参数
	devCmd := app.Command("dev", "Build for development.")
	devCmd.Flag("version", "自定义版本号").StringVar(&customVersion)
	devCmd.Action(devBuild)

	app.Command("dev-incremental", "增量构建：只在源码变化时重新编译").Action(devIncrementalBuild)
	app.Command("release", "Build for release.").Action(releaseBuild)
	app.Command("test", "Run tests.").Action(goTest)
	app.Command("generate", "go generate ./...").Action(goGenerate)
	app.Command("clean", "清理构建产物").Action(cleanBuild)

	if _, err := app.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

func devBuild(c *kingpin.ParseContext) error {
	// 如果指定了自定义版本号，设置环境变量供 GetBuildFlags 使用
	if customVersion != "" {
		os.Setenv("APP_VERSION", customVersion)
	}
	return BuildGoBinary(true)
}

func devIncrementalBuild(c *kingpin.ParseContext) error {
	_, err := BuildDevIncremental()
	return err
}

func releaseBuild(c *kingpin.ParseContext) error {
	return BuildGoBinary(false)
}

func goTest(c *kingpin.ParseContext) error {
	return execCommand([]string{
		"go", "test",
		"-race",
		"--cover",
		"-coverprofile=coverage.txt",
		"./src/...",
	})
}

func goGenerate(c *kingpin.ParseContext) error {
	return execCommand([]string{"go", "generate", "./..."})
}

// cleanBuild 清理构建产物（跨平台）
func cleanBuild(c *kingpin.ParseContext) error {
	for _, path := range []string{"bin", "coverage.txt"} {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("删除 %s 失败: %w", path, err)
		}
		fmt.Printf("已删除: %s\n", filepath.Clean(path))
	}
	fmt.Println("清理完成")
	return nil
}

func execCommand(args []string, env ...string) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Print(cmd.String())
	return cmd.Run()
}
