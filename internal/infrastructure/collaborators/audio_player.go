package collaborators

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"tipwire/internal/core/ports"
	"tipwire/pkg/validation"
)

// LocalAudioPlayer shells out to a media player for configured audio files.
// File names are validated and resolved against the audio directory only, so
// a bad command table entry cannot reach outside it.
type LocalAudioPlayer struct {
	directory string
	player    string
	logger    *zap.SugaredLogger
}

var _ ports.AudioPlayer = (*LocalAudioPlayer)(nil)

func NewLocalAudioPlayer(directory, player string, logger *zap.SugaredLogger) *LocalAudioPlayer {
	if player == "" {
		player = "mpv"
	}
	return &LocalAudioPlayer{
		directory: directory,
		player:    player,
		logger:    logger,
	}
}

func (p *LocalAudioPlayer) Play(ctx context.Context, file string) error {
	if err := validation.ValidateAudioFile(file); err != nil {
		return err
	}

	path := filepath.Join(p.directory, file)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.player, "--no-video", "--really-quiet", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio playback failed: %w", err)
	}

	p.logger.Debugw("audio played", "file", file)
	return nil
}
