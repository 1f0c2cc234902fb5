package domainfx

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const (
	ConfigDefaults = "defaults"
)

// DefaultSettings reads the seed for the engine settings. It is only used
// when the catalog holds no settings yet.
type DefaultSettings domain.Settings

func LoadDefaultSettings(v *viper.Viper) (DefaultSettings, error) {
	settings := domain.DefaultSettings()

	err := v.UnmarshalKey(ConfigDefaults, &settings)
	if err != nil {
		return DefaultSettings{}, errors.Wrap(err, "Unable to unmarshal default settings")
	}

	return DefaultSettings(settings), nil
}
