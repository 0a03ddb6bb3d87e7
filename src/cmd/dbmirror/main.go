package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/cmd/dbmirror/internal/flag"
	"github.com/dbmirror/dbmirror/src/configs"
	"github.com/dbmirror/dbmirror/src/consts"
	"github.com/dbmirror/dbmirror/src/log"
	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/pkg/gate"
	dbsentry "github.com/dbmirror/dbmirror/src/pkg/sentry"
)

var (
	// SentryDSN Sentry DSN (编译时注入，请勿在源代码中硬编码)
	// 使用 -ldflags="-X main.SentryDSN=your_dsn" 在编译时注入
	SentryDSN = ""
)

// app 持有命令执行所需的外部依赖，测试时替换为内存实现
type app struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	connector dbconn.Connector
	// sampler 为 nil 时读取本机负载
	sampler gate.LoadSampler
}

func main() {
	a := &app{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		connector: dbconn.NewMySQLConnector(),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := a.run(ctx, os.Args[1:])
	stop()
	// os.Exit 不会执行 defer
	dbsentry.Flush(2 * time.Second)
	os.Exit(code)
}

// run 执行一条命令并返回进程退出码
func (a *app) run(ctx context.Context, args []string) int {
	defer dbsentry.Recover()

	f, cmd, err := flag.Parse(args, a.stderr)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 2
	}

	if cmd == flag.CmdInit {
		return a.initConfig(f)
	}

	cfg, err := a.loadConfig(f)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}

	switch cmd {
	case flag.CmdDatabases:
		return a.listDatabases(ctx, cfg)
	case flag.CmdHistory:
		return a.showHistory(ctx, cfg, *f.HistoryRun, *f.HistoryLimit)
	case flag.CmdPause:
		return a.pause(cfg)
	case flag.CmdResume:
		return a.resume(cfg)
	}

	if err := cfg.Verify(); err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	configs.SetCurrentConfig(cfg)

	closer, err := log.New(cfg)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	defer closer.Close()
	a.initSentry(cfg)

	logger := logrus.WithField("component", "main")
	logger.Infof("%s Version: %s start", consts.AppName, consts.AppVersion)
	if cfg.File != "" {
		logger.Debugf("config path: %s.", cfg.File)
	} else {
		logger.Debugf("config file is not used.")
	}
	logger.Debugf("%+v", consts.GetAppInfo())

	return a.migrate(ctx, cfg)
}

// loadConfig 依次尝试 --config、当前目录和可执行文件旁的 config.yml，都不存在时使用默认值
// 之后用 .env 和环境变量覆盖凭据，最后应用命令行参数
func (a *app) loadConfig(f *flag.Flags) (*configs.Config, error) {
	var cfg *configs.Config
	if *f.Conf != "" {
		c, err := configs.NewConfigWithFile(*f.Conf)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else if c, err := configs.NewConfigWithFile("config.yml"); err == nil {
		cfg = c
	} else if c, err := getConfigBesidesExecutable(); err == nil {
		cfg = c
	} else {
		cfg = configs.NewConfig()
	}

	if err := cfg.LoadEnv(*f.EnvFile); err != nil {
		return nil, err
	}
	f.Apply(cfg)
	return cfg, nil
}

func getConfigBesidesExecutable() (*configs.Config, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(filepath.Dir(exePath), "config.yml")
	config, err := configs.NewConfigWithFile(configPath)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// initSentry DSN 来源优先级：编译时注入 > 配置文件或 DBMIRROR_SENTRY_DSN
func (a *app) initSentry(cfg *configs.Config) {
	dsn := SentryDSN
	if dsn == "" {
		dsn = cfg.Sentry.DSN
	}
	if !cfg.Sentry.Enable || dsn == "" {
		return
	}
	environment := cfg.Sentry.Environment
	if cfg.Debug {
		environment = "development"
	}
	if err := dbsentry.Init(dsn, environment, consts.AppVersion); err != nil {
		// Sentry 初始化失败不影响迁移，仅记录警告
		logrus.WithError(err).Warn("failed to init sentry")
	}
}
