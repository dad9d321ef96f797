package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"talkosync/internal/domain"
)

var ErrUnknownCue = errors.New("unknown_cue")

// LogPlayer records cues in the log instead of making a sound.
type LogPlayer struct {
	Logger *slog.Logger
}

func (p LogPlayer) Play(ctx context.Context, cue domain.Cue) error {
	if err := checkCue(cue); err != nil {
		return err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "sound cue", "cue", string(cue))
	return nil
}

// BellPlayer rings the terminal bell: twice for an ambient cue, once for a
// confirmation.
type BellPlayer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBellPlayer(w io.Writer) *BellPlayer {
	return &BellPlayer{w: w}
}

func (p *BellPlayer) Play(ctx context.Context, cue domain.Cue) error {
	if err := checkCue(cue); err != nil {
		return err
	}
	if p == nil || p.w == nil {
		return fmt.Errorf("bell player not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var seq string
	switch cue {
	case domain.CueAmbient:
		seq = strings.Repeat("\a", 2)
	case domain.CueConfirm:
		seq = "\a"
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, seq); err != nil {
		return fmt.Errorf("ring bell: %w", err)
	}
	return nil
}

func checkCue(cue domain.Cue) error {
	switch cue {
	case domain.CueSilent, domain.CueConfirm, domain.CueAmbient:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCue, cue)
	}
}
