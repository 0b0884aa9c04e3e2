package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Rasterizer renders a deck artifact into per-slide images by invoking
// an external converter process under a hard wall-clock timeout.
// Rasterization is best-effort: callers must tolerate an empty image
// list and fall back to text-only review.
type Rasterizer struct {
	command string
	timeout time.Duration
	logger  *log.Logger
}

func NewRasterizer(command string, timeout time.Duration) *Rasterizer {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Rasterizer{
		command: command,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[RASTER] ", log.LstdFlags),
	}
}

// Rasterize runs the converter against the artifact and returns the
// produced slide images plus a cleanup func removing the temp dir that
// holds them. Cleanup is safe to call multiple times and must be called
// on every path, including when the caller aborts partway.
func (r *Rasterizer) Rasterize(ctx context.Context, artifactPath string) ([]string, func(), error) {
	if r.command == "" {
		return nil, func() {}, fmt.Errorf("no converter command configured")
	}

	tmpDir, err := os.MkdirTemp("", "deckshots-*")
	if err != nil {
		return nil, func() {}, fmt.Errorf("create temp dir: %w", err)
	}
	cleaned := false
	cleanup := func() {
		if cleaned {
			return
		}
		cleaned = true
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Printf("temp dir cleanup failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, "--convert-to", "png", "--outdir", tmpDir, artifactPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("converter failed: %w (output: %s)", err, truncate(string(out), 200))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("read converter output: %w", err)
	}
	var images []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if ext == ".png" || ext == ".jpg" || ext == ".jpeg" {
			images = append(images, filepath.Join(tmpDir, e.Name()))
		}
	}
	sort.Strings(images)
	if len(images) == 0 {
		cleanup()
		return nil, func() {}, fmt.Errorf("converter produced no images")
	}
	return images, cleanup, nil
}
