package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"adserver.com/pkg/logger"
)

// Load 读取 config/{service}.yaml，环境变量覆盖，例如：
//
//	PAYMENTS_SERVICE_DB_SOURCE_NAME 覆盖 db.source_name
//	PAYMENTS_SERVICE_FEES_LICENSE   覆盖 fees.license
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	// .env 只是本地开发的便利，不存在不算错
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	return v, nil
}

// Watch 只记录配置文件变更。组件在构造时拿到的是不可变配置，改动需要重启生效
func Watch(v *viper.Viper, service string) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Log.Warn("config file changed, restart to apply",
			zap.String("service", service),
			zap.String("file", e.Name),
			zap.String("op", e.Op.String()))
	})
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
