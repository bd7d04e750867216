package softpipe

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

// DiscardConfig configures the discard output.
type DiscardConfig struct {
	SampleRate int `mapstructure:"sample_rate" default:"48000" validate:"min=8000,max=192000"`
	Channels   int `mapstructure:"channels" default:"2" validate:"min=1,max=2"`
}

// NewOutput creates an output from its type name and settings map.
func NewOutput(outputType string, settings map[string]any) (Output, error) {
	zlog.Debug().Msgf("softpipe: creating output: type=%s settings=%+v", outputType, settings)
	switch outputType {
	case "oto":
		var cfg OtoConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewOtoOutput(cfg)

	case "discard":
		var cfg DiscardConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewDiscardOutput(audio.PCMFormat{
			Format:   audio.FormatS16LE,
			Rate:     cfg.SampleRate,
			Channels: cfg.Channels,
			Layout:   audio.LayoutInterleaved,
		}), nil

	default:
		return nil, errors.Newf("unsupported output type: %s", outputType)
	}
}

func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
