// Package mixer provides sinks for hardware mixer gain commands.
package mixer

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/app/gain"
)

// ParamFileConfig configures a ParamFile sink.
type ParamFileConfig struct {
	Path     string `yaml:"path" mapstructure:"path" validate:"required"`
	// Truncate empties a regular file when it is opened.
	Truncate bool   `yaml:"truncate" mapstructure:"truncate"`
}

// ParamFile writes each command as one line to a parameter file or device
// node. The file is opened on the first command.
type ParamFile struct {
	cfg ParamFileConfig

	mu     sync.Mutex
	f      *os.File
	closed bool
}

var _ gain.Sink = (*ParamFile)(nil)

// NewParamFile creates a sink writing to cfg.Path.
func NewParamFile(cfg ParamFileConfig) *ParamFile {
	return &ParamFile{cfg: cfg}
}

// SetParameters implements gain.Sink.
func (p *ParamFile) SetParameters(command string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.Newf("mixer: param file closed: %s", p.cfg.Path)
	}
	if p.f == nil {
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if p.cfg.Truncate {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(p.cfg.Path, flags, 0o644)
		if err != nil {
			return errors.Wrapf(err, "failed to open param file %s", p.cfg.Path)
		}
		p.f = f
		zlog.Debug().Msgf("mixer: param file opened: path=%s", p.cfg.Path)
	}

	if _, err := p.f.WriteString(command + "\n"); err != nil {
		return errors.Wrapf(err, "failed to write %q", command)
	}
	return nil
}

// Close closes the file. Later commands fail.
func (p *ParamFile) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return errors.Wrap(err, "failed to close param file")
}
