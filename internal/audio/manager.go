package audio

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/aura/internal/config"
)

// Manager owns the process-wide audio session: the background loop, the tone
// output and the watcher that reloads the background file.
type Manager struct {
	logger  *slog.Logger
	player  *Player
	watcher *Watcher
	config  *config.Config
}

// NewManager creates a new audio manager.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	player := NewPlayer(logger)

	return &Manager{
		logger:  logger,
		player:  player,
		watcher: NewWatcher(cfg.SoundFile, player.Reload, logger),
		config:  cfg,
	}
}

// Start begins looping the configured sound file at the initial volume.
func (m *Manager) Start() error {
	if err := m.player.Open(m.config.SoundFile, m.config.Volume.Initial); err != nil {
		return err
	}
	m.logger.Info("audio manager started", "sound", m.config.SoundFile)
	return nil
}

// Watch reloads the sound file whenever it changes, until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	return m.watcher.Run(ctx)
}

// Stop shuts down the audio manager.
func (m *Manager) Stop() {
	m.player.Close()
	m.logger.Debug("audio manager stopped")
}

// SetVolume sets the background volume percentage.
func (m *Manager) SetVolume(percent int) error {
	return m.player.SetVolume(percent)
}

// Volume returns the current background volume percentage.
func (m *Manager) Volume() int {
	return m.player.Volume()
}

// Tone plays a tone and waits for it to finish.
func (m *Manager) Tone(ctx context.Context, freq float64, d time.Duration) error {
	return m.player.Tone(ctx, freq, d)
}
