// Package main provides the sap-player command line entry point.
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/app/engine"
	"github.com/osa030/sysaudio/internal/app/playback"
	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/infra/config"
	"github.com/osa030/sysaudio/internal/infra/logger"
	"github.com/osa030/sysaudio/internal/infra/mixer"
	"github.com/osa030/sysaudio/internal/infra/softpipe"
	"github.com/osa030/sysaudio/internal/infra/wsclient"
)

var (
	app        = kingpin.New("sap-player", "System audio player")
	configPath = app.Flag("config", "Path to config file (default: built-in defaults)").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	playCmd    = app.Command("play", "Play a file, URL, WebSocket stream or stdin (-)").Default()
	locator    = playCmd.Arg("locator", "File path, http(s) URL, ws(s) URL, or - for stdin").Required().String()
	audioFlag  = playCmd.Flag("audio", "Audio type: pcm, wav, mp3 (default: from locator)").Short('a').String()
	sourceFlag = playCmd.Flag("source", "Source type: file, http, data, websocket (default: from locator)").Short('s').String()
	modeFlag   = playCmd.Flag("mode", "Play mode: system, app").Short('m').Default("system").String()
	objectID   = playCmd.Flag("object-id", "Player object id").Default("1").Int()
	primary    = playCmd.Flag("primary", "Primary (ducking) volume 0-100").Default("-1").Int()
	volume     = playCmd.Flag("volume", "Player volume 0-100").Default("-1").Int()
	rate       = playCmd.Flag("rate", "PCM sample rate (default: play mode default)").Int()
	channels   = playCmd.Flag("channels", "PCM channel count (default: play mode default)").Int()
	linger     = playCmd.Flag("linger", "Time to keep playing after stdin is drained").Default("3s").Duration()

	// list-types command
	listTypesCmd = app.Command("list-types", "List audio types, source types and play modes and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listTypesCmd.FullCommand() {
		printTypes()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("sap-player: %v", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// playerEvent is one event delivered by the engine.
type playerEvent struct {
	objectID int
	event    playback.EventType
	at       time.Time
}

// run executes the main player logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	spec, err := resolveSpec(*locator)
	if err != nil {
		return err
	}

	out, err := softpipe.NewOutput(cfg.Output.Type, cfg.Output.Settings)
	if err != nil {
		return errors.Wrap(err, "failed to create audio output")
	}
	sink, err := mixer.New(cfg.Gain.Sink.Type, cfg.Gain.Sink.Settings)
	if err != nil {
		return errors.Wrap(err, "failed to create gain sink")
	}

	builder := softpipe.NewBuilder(softpipe.Config{
		PushMaxBytes: cfg.Pipeline.PushMaxBytes,
		HTTPTimeout:  cfg.HTTPTimeout(),
	}, out)

	events := make(chan playerEvent, 64)
	opts := []engine.Option{
		engine.WithBuilder(builder),
		engine.WithDialer(wsclient.NewDialer(wsclient.Config{
			Origin:      cfg.Network.Origin,
			DialTimeout: cfg.DialTimeout(),
		})),
		engine.WithEventSink(playback.EventSinkFunc(func(id int, ev playback.EventType) {
			select {
			case events <- playerEvent{objectID: id, event: ev, at: time.Now()}:
			default:
				zlog.Warn().Msgf("sap-player: event dropped: object_id=%d event=%s", id, ev)
			}
		})),
	}
	if sink != nil {
		opts = append(opts, engine.WithGainSink(sink))
	}

	eng, err := engine.Init(playerConfig(cfg), opts...)
	if err != nil {
		return errors.Wrap(err, "failed to initialize engine")
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			zlog.Error().Err(err).Msg("sap-player: shutdown failed")
		}
	}()

	player, err := eng.NewPlayer(spec)
	if err != nil {
		return err
	}

	if spec.AudioType == audio.PCM && (*rate > 0 || *channels > 0) {
		f := player.PCMFormat()
		if *rate > 0 {
			f.Rate = *rate
		}
		if *channels > 0 {
			f.Channels = *channels
		}
		if !player.ConfigurePCMFormat(f.Format, f.Rate, f.Channels, f.Layout) {
			return errors.Newf("unsupported PCM format: %s", f)
		}
	}
	if *primary >= 0 || *volume >= 0 {
		if err := player.SetVolumes(*primary, *volume); err != nil {
			return err
		}
	}

	// stdinDone carries the time of the last buffer handed to the player.
	stdinDone := make(chan time.Time, 1)
	if *locator == "-" {
		go feedStdin(player, cfg.Pipeline.FragmentSize, stdinDone)
	} else if err := player.Play(*locator); err != nil {
		return errors.Wrapf(err, "failed to play %s", *locator)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var (
		lastFed   time.Time
		fedAll    bool
		lastNeed  time.Time
		lingerEnd <-chan time.Time
		hooksOnce sync.Once
	)
	for {
		select {
		case <-sigCh:
			zlog.Info().Msg("sap-player: received shutdown signal")
			player.Stop()
			return nil

		case t := <-stdinDone:
			lastFed, fedAll = t, true
			if lastNeed.After(lastFed) {
				lingerEnd = time.After(*linger)
			}

		case <-lingerEnd:
			zlog.Info().Msg("sap-player: stdin drained")
			player.Stop()
			executeHooks(cfg.Hooks.OnFinished, "on_finished")
			return nil

		case ev := <-events:
			fmt.Printf("%d %s\n", ev.objectID, ev.event)
			switch ev.event {
			case playback.EventPlaybackStarted:
				hooksOnce.Do(func() { executeHooks(cfg.Hooks.OnStarted, "on_started") })
			case playback.EventNeedData:
				lastNeed = ev.at
				if fedAll && lastNeed.After(lastFed) && lingerEnd == nil {
					lingerEnd = time.After(*linger)
				}
			case playback.EventPlaybackFinished:
				executeHooks(cfg.Hooks.OnFinished, "on_finished")
				return nil
			case playback.EventPlaybackError, playback.EventNetworkError:
				return errors.Newf("playback failed: %s", ev.event)
			}
		}
	}
}

// feedStdin copies stdin into the player in fragment-sized buffers.
func feedStdin(player *playback.Player, size int, done chan<- time.Time) {
	buf := make([]byte, size)
	last := time.Now()
	for {
		n, err := io.ReadFull(os.Stdin, buf)
		if n > 0 {
			if perr := player.PlayBuffer(append([]byte(nil), buf[:n]...)); perr != nil {
				zlog.Error().Err(perr).Msg("sap-player: failed to queue stdin data")
				break
			}
			last = time.Now()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				zlog.Error().Err(err).Msg("sap-player: failed to read stdin")
			}
			break
		}
	}
	done <- last
}

// resolveSpec builds the player classification from flags, inferring
// missing types from the locator.
func resolveSpec(loc string) (playback.Spec, error) {
	spec := playback.Spec{ObjectID: *objectID}

	var err error
	switch {
	case *sourceFlag != "":
		spec.SourceType, err = audio.ParseSourceType(*sourceFlag)
	case loc == "-":
		spec.SourceType = audio.PushData
	case strings.HasPrefix(loc, "ws://"), strings.HasPrefix(loc, "wss://"):
		spec.SourceType = audio.WebSocketPush
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		spec.SourceType = audio.HTTPPull
	default:
		spec.SourceType = audio.FilePull
	}
	if err != nil {
		return spec, err
	}

	if *audioFlag != "" {
		spec.AudioType, err = audio.ParseAudioType(*audioFlag)
	} else {
		switch strings.ToLower(filepath.Ext(loc)) {
		case ".mp3":
			spec.AudioType = audio.MP3
		case ".wav":
			spec.AudioType = audio.WAV
		default:
			spec.AudioType = audio.PCM
		}
	}
	if err != nil {
		return spec, err
	}

	spec.PlayMode, err = audio.ParsePlayMode(*modeFlag)
	return spec, err
}

// playerConfig maps the configuration file onto player tuning.
func playerConfig(cfg *config.Config) playback.Config {
	return playback.Config{
		FragmentSize:   cfg.Pipeline.FragmentSize,
		QueueCapacity:  cfg.Pipeline.QueueCapacity,
		ResetTimeout:   cfg.ResetTimeout(),
		DestroyTimeout: cfg.DestroyTimeout(),
		ConvertStages:  cfg.ConvertEnabled(),
		DefaultPrimary: cfg.Volume.DefaultPrimary,
		DefaultPlayer:  cfg.Volume.DefaultPlayer,
		MaxPrimary:     cfg.Volume.MaxPrimary,
		DumpDir:        cfg.Pipeline.DumpDir,
	}
}

// printTypes prints the accepted type names.
func printTypes() {
	fmt.Println("Audio types:  pcm, wav, mp3")
	fmt.Println("Source types: file, http, data (stdin), websocket")
	fmt.Println("Play modes:   system, app")
	for _, mode := range []audio.PlayMode{audio.System, audio.App} {
		fmt.Printf("  %-6s default PCM format: %s\n", mode, audio.DefaultPCMFormat(mode))
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
