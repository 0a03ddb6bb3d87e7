// Package flag 定义 dbmirror 的命令行参数
package flag

import (
	"io"
	"time"

	"github.com/alecthomas/kingpin"

	"github.com/dbmirror/dbmirror/src/configs"
	"github.com/dbmirror/dbmirror/src/consts"
)

// 子命令名称
const (
	CmdRun       = "run"
	CmdDatabases = "databases"
	CmdHistory   = "history"
	CmdPause     = "pause"
	CmdResume    = "resume"
	CmdInit      = "init"
)

// Flags 一次解析得到的全部参数
type Flags struct {
	Conf    *string
	EnvFile *string
	Debug   *bool

	Mode        *string
	Databases   *[]string
	Source      *string
	SourceUser  *string
	SourceDB    *string
	Target      *string
	TargetUser  *string
	TargetDB    *string
	Threads     *int
	BatchSize   *int
	LoadCeiling *float64
	LoadEvery   *time.Duration
	PauseFile   *string
	FaultLog    *string
	RPCBind     *string
	NoHistory   *bool

	HistoryLimit *int
	HistoryRun   *string

	InitPath  *string
	InitForce *bool
}

// Parse 解析 args，返回参数和选中的子命令
// 每次调用都会新建 kingpin.Application，重复解析不会互相影响
func Parse(args []string, usage io.Writer) (*Flags, string, error) {
	app := kingpin.New(consts.AppName, "Copy MySQL databases from a source server to a target server.").
		Version(consts.AppVersion)
	if usage != nil {
		app.UsageWriter(usage)
		app.ErrorWriter(usage)
	}
	app.HelpFlag.Short('h')

	f := &Flags{
		Conf:    app.Flag("config", "Config file.").Short('c').Default("").String(),
		EnvFile: app.Flag("env-file", "Dotenv file with connection secrets.").Default(".env").String(),
		Debug:   app.Flag("debug", "Enable debug mode.").Default("false").Bool(),
	}

	run := app.Command(CmdRun, "Migrate schemas and rows.").Default()
	f.Mode = run.Flag("mode", "Migration mode.").Default("").Enum("", string(configs.ModeSingle), string(configs.ModeMulti))
	f.Databases = run.Flag("database", "Database to migrate in multi mode, by name or list index. Repeatable.").Short('d').Strings()
	f.Source = run.Flag("source", "Source server host[:port].").Default("").String()
	f.SourceUser = run.Flag("source-user", "Source server user.").Default("").String()
	f.SourceDB = run.Flag("source-db", "Database to migrate in single mode.").Default("").String()
	f.Target = run.Flag("target", "Target server host[:port].").Default("").String()
	f.TargetUser = run.Flag("target-user", "Target server user.").Default("").String()
	f.TargetDB = run.Flag("target-db", "Target database name in single mode, defaults to the source database name.").Default("").String()
	f.Threads = run.Flag("threads", "Tables migrated concurrently.").Short('t').Default("0").Int()
	f.BatchSize = run.Flag("batch-size", "Rows per batch.").Default("0").Int()
	f.LoadCeiling = run.Flag("load-ceiling", "Pause dispatching while 1-minute load x100 is at or above this value.").Default("0").Float64()
	f.LoadEvery = run.Flag("load-interval", "Retry interval while the load is too high.").Default("0s").Duration()
	f.PauseFile = run.Flag("pause-file", "Marker file that pauses the migration while it exists.").Default("").String()
	f.FaultLog = run.Flag("fault-log", "File that receives per-table and per-row failures.").Default("").String()
	f.RPCBind = run.Flag("rpc-bind", "Serve progress, pause control and metrics over HTTP on this address.").Default("").String()
	f.NoHistory = run.Flag("no-history", "Do not record this run in the history database.").Default("false").Bool()

	app.Command(CmdDatabases, "List the user databases on the source server.")

	history := app.Command(CmdHistory, "Show recorded runs, or the table jobs of one run.")
	f.HistoryLimit = history.Flag("limit", "Number of runs to list.").Short('n').Default("10").Int()
	f.HistoryRun = history.Arg("run", "Run ID.").Default("").String()

	app.Command(CmdPause, "Create the pause marker file.")
	app.Command(CmdResume, "Remove the pause marker file.")

	initCmd := app.Command(CmdInit, "Write a config file with default values.")
	f.InitPath = initCmd.Arg("path", "Config file to write.").Default("config.yml").String()
	f.InitForce = initCmd.Flag("force", "Overwrite an existing file.").Default("false").Bool()

	cmd, err := app.Parse(args)
	if err != nil {
		return nil, "", err
	}
	return f, cmd, nil
}

// Apply 用命令行中显式给出的参数覆盖配置
func (f *Flags) Apply(cfg *configs.Config) {
	if *f.Debug {
		cfg.Debug = true
	}
	if *f.Mode != "" {
		cfg.Mode = configs.Mode(*f.Mode)
	}
	if len(*f.Databases) > 0 {
		cfg.Databases = append([]string(nil), *f.Databases...)
	}
	if *f.Source != "" {
		cfg.Source.Host, cfg.Source.Port = configs.SplitHostPort(*f.Source, cfg.Source.Port)
	}
	if *f.SourceUser != "" {
		cfg.Source.User = *f.SourceUser
	}
	if *f.SourceDB != "" {
		cfg.Source.Database = *f.SourceDB
	}
	if *f.Target != "" {
		cfg.Target.Host, cfg.Target.Port = configs.SplitHostPort(*f.Target, cfg.Target.Port)
	}
	if *f.TargetUser != "" {
		cfg.Target.User = *f.TargetUser
	}
	if *f.TargetDB != "" {
		cfg.Target.Database = *f.TargetDB
	}
	if *f.Threads > 0 {
		cfg.Threads = *f.Threads
	}
	if *f.BatchSize > 0 {
		cfg.BatchSize = *f.BatchSize
	}
	if *f.LoadCeiling > 0 {
		cfg.Load.Ceiling = *f.LoadCeiling
	}
	if *f.LoadEvery > 0 {
		cfg.Load.Interval = *f.LoadEvery
	}
	if *f.PauseFile != "" {
		cfg.Pause.File = *f.PauseFile
	}
	if *f.FaultLog != "" {
		cfg.FaultLog = *f.FaultLog
	}
	if *f.RPCBind != "" {
		cfg.RPC.Enable = true
		cfg.RPC.Bind = *f.RPCBind
	}
	if *f.NoHistory {
		cfg.History.Enable = false
	}
}
