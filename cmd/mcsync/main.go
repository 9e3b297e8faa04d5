package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mcsync/cmd/mcsync/commands"

	"github.com/sirupsen/logrus"
)

func main() {
	// Ctrl-C: 不再启动新的传输，进行中的传输完成后退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		logrus.Error(err)
		stop()
		os.Exit(1)
	}
}
