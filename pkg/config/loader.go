package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.mcsync -> ~/.mcsync
		viper.AddConfigPath(".")
		viper.AddConfigPath(".mcsync")
		viper.AddConfigPath(filepath.Join(home, ".mcsync"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 3. 环境变量 (MCSYNC_TRANSFER_CONCURRENCY 等)
	viper.SetEnvPrefix("MCSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没有配置文件不算错，格式错误才算
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logrus.Debug("no config file found, using defaults and env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	}

	return nil
}

func setDefaults() {
	home, _ := os.UserHomeDir()
	viper.SetDefault("root", filepath.Join(home, ".minecraft"))

	viper.SetDefault("http.timeout", 30*time.Second)
	viper.SetDefault("http.user_agent", "")

	viper.SetDefault("transfer.concurrency", 8)
	viper.SetDefault("transfer.attempts", 3)
	viper.SetDefault("transfer.backoff", 2.0)
	viper.SetDefault("transfer.base_delay", time.Second)

	// 为空表示使用官方地址；可以指向镜像
	viper.SetDefault("endpoints.catalog", "")
	viper.SetDefault("endpoints.resources", "")

	viper.SetDefault("fetch.attempts", 3)
	viper.SetDefault("fetch.base_delay", time.Second)

	viper.SetDefault("platforms", []string{"osx", "linux", "windows"})
	viper.SetDefault("exclude", []string{})

	// 文档缓存默认就是根目录本身
	viper.SetDefault("cache.type", "disk")
	viper.SetDefault("cache.s3.region", "us-east-1")
	viper.SetDefault("cache.redis.url", "")
	viper.SetDefault("cache.redis.ttl", 24*time.Hour)

	viper.SetDefault("ledger.driver", "none")
	viper.SetDefault("ledger.dsn", "")

	viper.SetDefault("metrics.file", "")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}
