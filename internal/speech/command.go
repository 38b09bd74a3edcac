package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	// baseWordsPerMinute is the espeak speed for rate 1
	baseWordsPerMinute = 175
	minWordsPerMinute  = 80
	maxWordsPerMinute  = 450
)

// CommandEngine speaks through an espeak compatible command line program
type CommandEngine struct {
	binary string
	logger *zap.Logger

	// run executes the binary, replaced in tests
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandEngine returns an engine for binary, or Silent when the binary
// cannot be found on PATH.
func NewCommandEngine(binary string, logger *zap.Logger) Engine {
	path, err := exec.LookPath(binary)
	if err != nil {
		logger.Info("Speech program not found, speech disabled", zap.String("binary", binary))
		return Silent{}
	}
	return &CommandEngine{binary: path, logger: logger, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Voices lists the installed voices
func (e *CommandEngine) Voices(ctx context.Context) ([]Voice, error) {
	out, err := e.run(ctx, e.binary, "--voices")
	if err != nil {
		return nil, fmt.Errorf("listing voices: %w", err)
	}
	return parseVoices(out), nil
}

// parseVoices reads the table printed by --voices:
//
//	Pty Language Age/Gender VoiceName File Other Languages
func parseVoices(out []byte) []Voice {
	var voices []Voice
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		lang := fields[1]
		if seen[lang] {
			continue
		}
		seen[lang] = true
		voices = append(voices, Voice{
			URI:  lang,
			Name: strings.ReplaceAll(fields[3], "_", " "),
			Lang: lang,
		})
	}
	for i := range voices {
		if voices[i].Lang == "en" {
			voices[i].Default = true
		}
	}
	return voices
}

// Speak runs the program until the text was spoken. Cancelling ctx kills
// the running process.
func (e *CommandEngine) Speak(ctx context.Context, u Utterance) error {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil
	}
	args := []string{"-s", strconv.Itoa(wordsPerMinute(u.Rate))}
	voice := u.VoiceURI
	if voice == "" {
		voice = u.Lang
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	// end of options, the text may start with a dash
	args = append(args, "--", text)

	if _, err := e.run(ctx, e.binary, args...); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("speaking: %w", err)
	}
	return nil
}

func wordsPerMinute(rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	wpm := int(baseWordsPerMinute * rate)
	return max(minWordsPerMinute, min(maxWordsPerMinute, wpm))
}
