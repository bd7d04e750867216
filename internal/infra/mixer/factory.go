package mixer

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/app/gain"
)

// New creates a gain sink from its type name and settings map. The "none"
// type returns a nil sink: players then fall back to stream volume.
func New(sinkType string, settings map[string]any) (gain.Sink, error) {
	zlog.Debug().Msgf("mixer: creating gain sink: type=%s settings=%+v", sinkType, settings)
	switch sinkType {
	case "none", "":
		return nil, nil

	case "param_file":
		var cfg ParamFileConfig
		if err := mapstructure.Decode(settings, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode param_file settings")
		}
		if err := defaults.Set(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to set defaults")
		}
		if err := validator.New().Struct(&cfg); err != nil {
			return nil, errors.Wrap(err, "param_file settings validation failed")
		}
		zlog.Info().Msgf("mixer: gain sink ready: type=param_file path=%s", cfg.Path)
		return NewParamFile(cfg), nil

	default:
		return nil, errors.Newf("unsupported gain sink type: %s", sinkType)
	}
}
