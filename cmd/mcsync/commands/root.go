package commands

import (
	"context"
	"errors"
	"fmt"

	"mcsync/pkg/app"
	"mcsync/pkg/config"
	"mcsync/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	MC *app.App
)

// ErrIncomplete 表示有任务失败或有来源被放弃，进程以非零状态退出
var ErrIncomplete = errors.New("sync incomplete")

var rootCmd = &cobra.Command{
	Use:           "mcsync",
	Short:         "mcsync: verified Minecraft content sync",
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile); err != nil {
			return err
		}

		s, err := config.Current()
		if err != nil {
			return err
		}
		if err := logging.Setup(s.LogLevel, s.LogFormat); err != nil {
			return err
		}

		MC, err = app.New(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("failed to initialize mcsync: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

func closeApp() error {
	if MC == nil {
		return nil
	}
	err := MC.Close()
	MC = nil
	return err
}

// Execute 是入口
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	// RunE 失败时 PostRun 不会执行
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mcsync/config.yaml)")

	// 既可以在 yaml 里写，也可以用参数覆盖
	flags.String("root", "", "content root (default is $HOME/.minecraft)")
	flags.Int("concurrency", 0, "maximum transfers in flight (default 8)")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	mustBind("root", "root")
	mustBind("transfer.concurrency", "concurrency")
	mustBind("log.level", "log-level")
}

func mustBind(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
	}
}
