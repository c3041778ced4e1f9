// Package render turns a session's event stream into a replay video by
// playing it back through rrweb-player in a headless Chromium and
// capturing the tab with Playwright's native recording.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/core/config"
	"replaycast.app/studio/internal/model"
)

// Fatal render errors. Retrying cannot fix these, the worker marks the
// session failed immediately instead of requeueing.
var (
	ErrNoEvents       = errors.New("no events to render")
	ErrPlayerNotReady = errors.New("replay player failed to load")
	ErrNoOutput       = errors.New("no recording produced")
)

// IsFatal reports whether the error is a render failure that retrying
// cannot fix.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoEvents) || errors.Is(err, ErrPlayerNotReady) || errors.Is(err, ErrNoOutput)
}

// Result describes the artifacts one render produced. ThumbnailPath and
// KeyframesPath are empty when those optional steps failed.
type Result struct {
	VideoPath     string
	ThumbnailPath string
	KeyframesPath string
	DurationMS    int64
	SizeBytes     int64
}

type Renderer interface {
	// Render plays the events back and writes replay.webm (plus optional
	// thumbnail.jpg and keyframes.json) into outputDir.
	Render(ctx context.Context, events []model.Event, outputDir string) (*Result, error)
	Close() error
}

type playwrightRenderer struct {
	pw     *playwright.Playwright
	cfg    config.RenderConfig
	runner CommandRunner

	httpClient *http.Client

	// Player assets are fetched from the CDN once per process; a failed
	// fetch is retried on the next render rather than latched.
	mu     sync.Mutex
	assets *playerAssets
}

func NewPlaywrightRenderer(cfg config.RenderConfig, runner CommandRunner) (Renderer, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright driver: %w", err)
	}
	return &playwrightRenderer{
		pw:         pw,
		cfg:        cfg,
		runner:     runner,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (r *playwrightRenderer) Close() error {
	return r.pw.Stop()
}

func (r *playwrightRenderer) Render(ctx context.Context, events []model.Event, outputDir string) (*Result, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	page, err := r.playerPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("building player page: %w", err)
	}

	payload, err := eventsJSON(events)
	if err != nil {
		return nil, fmt.Errorf("encoding events: %w", err)
	}

	total := playbackDuration(events, r.cfg.Buffer, r.cfg.MaxDuration)

	// Recordings land in a scratch dir inside outputDir so the final
	// rename never crosses filesystems.
	recordDir, err := os.MkdirTemp(outputDir, "recordings-")
	if err != nil {
		return nil, fmt.Errorf("creating recording dir: %w", err)
	}
	defer os.RemoveAll(recordDir) //nolint:errcheck

	slog.InfoContext(ctx, "rendering session replay",
		"event_count", len(events),
		"playback_seconds", total.Seconds())

	if err := r.record(ctx, page, payload, recordDir, total); err != nil {
		return nil, err
	}

	latest, err := newestRecording(recordDir)
	if err != nil {
		return nil, err
	}

	videoPath := filepath.Join(outputDir, "replay.webm")
	if err := os.Rename(latest, videoPath); err != nil {
		return nil, fmt.Errorf("moving recording: %w", err)
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("stat recording: %w", err)
	}

	result := &Result{
		VideoPath:  videoPath,
		DurationMS: total.Milliseconds(),
		SizeBytes:  info.Size(),
	}

	thumbPath := filepath.Join(outputDir, "thumbnail.jpg")
	if err := r.generateThumbnail(ctx, videoPath, thumbPath); err != nil {
		slog.WarnContext(ctx, "thumbnail generation failed", "error", err)
	} else {
		result.ThumbnailPath = thumbPath
	}

	if frames := DeriveKeyframes(events); len(frames) > 0 {
		keyframesPath := filepath.Join(outputDir, "keyframes.json")
		if err := writeKeyframes(keyframesPath, frames); err != nil {
			slog.WarnContext(ctx, "keyframe index write failed", "error", err)
		} else {
			result.KeyframesPath = keyframesPath
		}
	}

	slog.InfoContext(ctx, "render complete",
		"video_path", videoPath,
		"size_bytes", result.SizeBytes,
		"duration_ms", result.DurationMS)

	return result, nil
}

func (r *playwrightRenderer) record(ctx context.Context, pageHTML string, eventsPayload []byte, recordDir string, total time.Duration) error {
	browser, err := r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-web-security",
			"--disable-features=IsolateOrigins,site-per-process",
		},
	})
	if err != nil {
		return fmt.Errorf("launching chromium: %w", err)
	}
	defer browser.Close() //nolint:errcheck

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		RecordVideo: &playwright.RecordVideo{
			Dir:  recordDir,
			Size: &playwright.Size{Width: r.cfg.Width, Height: r.cfg.Height},
		},
		Viewport: &playwright.Size{Width: r.cfg.Width, Height: r.cfg.Height},
	})
	if err != nil {
		return fmt.Errorf("creating browser context: %w", err)
	}

	ctxClosed := false
	defer func() {
		if !ctxClosed {
			_ = browserCtx.Close()
		}
	}()

	page, err := browserCtx.NewPage()
	if err != nil {
		return fmt.Errorf("opening page: %w", err)
	}

	page.OnConsole(func(msg playwright.ConsoleMessage) {
		slog.DebugContext(ctx, "browser console", "type", msg.Type(), "text", logger.Truncate(msg.Text(), 300))
	})
	page.OnPageError(func(pageErr error) {
		slog.ErrorContext(ctx, "browser page error", "error", pageErr)
	})

	// SetContent instead of a file:// URL so the page keeps a real
	// origin and the inlined assets parse without scheme restrictions.
	if err := page.SetContent(pageHTML, playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return fmt.Errorf("loading player page: %w", err)
	}

	if _, err := page.WaitForFunction(
		"() => window.pageReady === true || window.loadError !== null",
		nil,
		playwright.PageWaitForFunctionOptions{
			Timeout: playwright.Float(float64(r.cfg.ReadyTimeout.Milliseconds())),
		},
	); err != nil {
		return fmt.Errorf("%w: %s", ErrPlayerNotReady, err)
	}

	loadErr, err := page.Evaluate("() => window.loadError")
	if err != nil {
		return fmt.Errorf("reading player state: %w", err)
	}
	if loadErr != nil {
		return fmt.Errorf("%w: %v", ErrPlayerNotReady, loadErr)
	}

	if _, err := page.Evaluate(fmt.Sprintf("startPlayback(%s)", eventsPayload)); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}

	// Record in real time. Closing the context below is what flushes the
	// webm to disk.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(total):
	}

	ctxClosed = true
	if err := browserCtx.Close(); err != nil {
		return fmt.Errorf("finalizing recording: %w", err)
	}
	return nil
}

// playbackDuration is the recorded wall-clock span: event span plus a
// buffer for load and tail, capped at the configured maximum.
func playbackDuration(events []model.Event, buffer, maxTotal time.Duration) time.Duration {
	var minTS, maxTS int64
	for _, ev := range events {
		if ev.Timestamp <= 0 {
			continue
		}
		if minTS == 0 || ev.Timestamp < minTS {
			minTS = ev.Timestamp
		}
		if ev.Timestamp > maxTS {
			maxTS = ev.Timestamp
		}
	}

	total := buffer
	if maxTS > minTS {
		total += time.Duration(maxTS-minTS) * time.Millisecond
	}
	if maxTotal > 0 && total > maxTotal {
		total = maxTotal
	}
	return total
}

func newestRecording(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading recording dir: %w", err)
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".webm") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime()
		}
	}

	if newest == "" {
		return "", ErrNoOutput
	}
	return newest, nil
}

func eventsJSON(events []model.Event) ([]byte, error) {
	payloads := make([]json.RawMessage, len(events))
	for i, ev := range events {
		payloads[i] = ev.Payload
	}
	return json.Marshal(payloads)
}
