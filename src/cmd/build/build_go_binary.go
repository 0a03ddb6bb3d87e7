package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"text/template"
	"time"
)

// BuildFlags 包含构建所需的参数
type BuildFlags struct {
	Tags         string
	GcFlags      string
	LdFlags      string
	DebugLdFlags string // -s -w（release 模式）或空（dev 模式）
}

const (
	// constsPath 是注入版本信息的包路径
	constsPath = "github.com/dbmirror/dbmirror/src/consts"
	mainPath   = "./src/cmd/dbmirror"
)

var ldFlagsTmpl = template.Must(template.New("ldFlags").Parse(
	"-X {{.ConstsPath}}.BuildTime={{.Now}} " +
		"-X {{.ConstsPath}}.AppVersion={{.AppVersion}} " +
		"-X {{.ConstsPath}}.GitHash={{.GitHash}}" +
		"{{if .SentryDSN}} -X main.SentryDSN={{.SentryDSN}}{{end}}"))

// GetBuildFlags 返回构建参数
// 版本号优先级：环境变量 APP_VERSION > git tag
func GetBuildFlags(isDev bool) BuildFlags {
	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = gitOutput("describe", "--tags", "--always")
	}
	data := map[string]string{
		"ConstsPath": constsPath,
		"Now":        fmt.Sprintf("%d", time.Now().Unix()),
		"AppVersion": appVersion,
		"GitHash":    gitOutput("rev-parse", "HEAD"),
		"SentryDSN":  os.Getenv("SENTRY_DSN"),
	}
	var buf bytes.Buffer
	if err := ldFlagsTmpl.Execute(&buf, data); err != nil {
		panic(err)
	}

	if isDev {
		return BuildFlags{
			Tags:         "dev",
			GcFlags:      "all=-N -l", // 禁用优化以便调试
			LdFlags:      strings.TrimSpace(buf.String()),
			DebugLdFlags: "",
		}
	}
	return BuildFlags{
		Tags:         "release",
		LdFlags:      strings.TrimSpace(buf.String()),
		DebugLdFlags: "-s -w",
	}
}

func targetPlatform() (string, string) {
	goHostOS := os.Getenv("PLATFORM")
	if goHostOS == "" {
		goHostOS = runtime.GOOS
	}
	goHostArch := os.Getenv("ARCH")
	if goHostArch == "" {
		goHostArch = runtime.GOARCH
	}
	return goHostOS, goHostArch
}

// BuildGoBinary 构建 Go 二进制文件到默认路径（bin/dbmirror-{平台}-{架构}）
func BuildGoBinary(isDev bool) error {
	goHostOS, goHostArch := targetPlatform()
	return BuildGoBinaryWithOutput(isDev, "bin/"+generateBinaryName(goHostOS, goHostArch))
}

// BuildGoBinaryWithOutput 构建 Go 二进制文件到指定路径
func BuildGoBinaryWithOutput(isDev bool, outputPath string) error {
	goHostOS, goHostArch := targetPlatform()
	flags := GetBuildFlags(isDev)

	fmt.Printf("building dbmirror (Platform: %s, Arch: %s, GoVersion: %s, Tags: %s)\n",
		goHostOS, goHostArch, runtime.Version(), flags.Tags)

	ldflags := flags.LdFlags
	if flags.DebugLdFlags != "" {
		ldflags = flags.DebugLdFlags + " " + ldflags
	}
	if err := os.MkdirAll("bin", 0o755); err != nil {
		return err
	}
	// modernc.org/sqlite 是纯 Go 实现，可以关闭 CGO 交叉编译
	return execCommand([]string{
		"go", "build",
		"-tags", flags.Tags,
		"-gcflags=" + flags.GcFlags,
		"-o", outputPath,
		"-ldflags=" + ldflags,
		mainPath,
	}, "GOOS="+goHostOS, "GOARCH="+goHostArch, "CGO_ENABLED=0")
}

func generateBinaryName(goHostOS string, goHostArch string) string {
	binaryName := "dbmirror-" + goHostOS + "-" + goHostArch
	if goHostOS == "windows" {
		binaryName += ".exe"
	}
	return binaryName
}

func gitOutput(args ...string) string {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
