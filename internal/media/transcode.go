package media

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Transcoder shrinks a local media file and returns the path of the result.
type Transcoder interface {
	Compress(ctx context.Context, path string) (string, error)
}

// Shrink runs t on path when the file is larger than limit bytes. Any
// failure is logged and the original path is returned so delivery can still
// be attempted.
func Shrink(ctx context.Context, t Transcoder, path string, limit int64, log *slog.Logger) string {
	info, err := os.Stat(path)
	if err != nil {
		log.Error("stat media", "path", path, "error", err)
		return path
	}
	if info.Size() <= limit {
		return path
	}

	log.Info("compressing media", "path", path, "size", info.Size(), "limit", limit)
	out, err := t.Compress(ctx, path)
	if err != nil {
		log.Error("compress media", "path", path, "error", err)
		return path
	}
	return out
}

// Gzip writes <path>.gz next to the input file.
type Gzip struct{}

// Compress implements Transcoder.
func (Gzip) Compress(_ context.Context, path string) (string, error) {
	in, err := os.Open(path) //nolint:gosec // path comes from the scratch directory
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = in.Close() }()

	outPath := path + ".gz"
	out, err := os.Create(outPath) //nolint:gosec // path comes from the scratch directory
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, bufio.NewReader(in)); err != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("flush gzip: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("close output: %w", err)
	}
	return outPath, nil
}

// FFmpeg re-encodes video files with a lower quality setting. Non-video
// inputs are passed to Fallback.
type FFmpeg struct {
	Binary   string
	Fallback Transcoder
}

// Compress implements Transcoder.
func (f FFmpeg) Compress(ctx context.Context, path string) (string, error) {
	ext := Extension(path)
	if ext != ".mp4" && ext != ".webm" {
		if f.Fallback == nil {
			return "", fmt.Errorf("unsupported input %q", ext)
		}
		return f.Fallback.Compress(ctx, path)
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".small.mp4"
	cmd := exec.CommandContext(ctx, f.Binary, //nolint:gosec // binary is operator-configured
		"-y", "-loglevel", "error",
		"-i", path,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "28",
		"-vf", "scale='min(1280,iw)':-2",
		"-c:a", "aac", "-b:a", "96k",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return outPath, nil
}
