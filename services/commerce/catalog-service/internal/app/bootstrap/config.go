package bootstrap

import "github.com/viralforge/commerce-mesh/platform/config"

type Config struct {
	config.Common
}

func LoadConfig(path string) (Config, error) {
	common, err := config.Load(path, config.Defaults("catalog-service", 8081, 9081), nil)
	if err != nil {
		return Config{}, err
	}
	return Config{Common: common}, nil
}
