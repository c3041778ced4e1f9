package render

import (
	"context"
	"fmt"

	"replaycast.app/studio/common/logger"
)

// generateThumbnail grabs the first frame of the replay with ffmpeg.
// Callers treat failure as non-fatal; a replay without a thumbnail is
// still a replay.
func (r *playwrightRenderer) generateThumbnail(ctx context.Context, videoPath, outputPath string) error {
	out, err := r.runner.Run(ctx, Command{
		Name: "ffmpeg",
		Args: []string{
			"-y",
			"-i", videoPath,
			"-vframes", "1",
			"-vf", "scale=320:-1",
			"-q:v", "2",
			outputPath,
		},
	})
	if err != nil {
		return fmt.Errorf("ffmpeg: %w (output: %s)", err, logger.Truncate(string(out), 500))
	}
	return nil
}
