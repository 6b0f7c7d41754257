package bootstrap

import "github.com/viralforge/commerce-mesh/platform/config"

type Config struct {
	config.Common
}

func LoadConfig(path string) (Config, error) {
	common, err := config.Load(path, config.Defaults("payment-service", 8084, 9084), nil)
	if err != nil {
		return Config{}, err
	}
	return Config{Common: common}, nil
}
