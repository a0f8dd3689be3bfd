package ota

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Download streams the image at url into the flasher. Progress is reported
// at most once per percent step to keep the UI marshalling cheap.
func Download(ctx context.Context, client *http.Client, url string, flasher Flasher, progress func(percent int, bytesPerSec int)) error {
	ctx, span := tracer.Start(ctx, "download firmware")
	defer span.End()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("firmware download failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("firmware download failed: unexpected status %s", response.Status)
	}

	size := response.ContentLength
	if err := flasher.Begin(size); err != nil {
		return fmt.Errorf("failed to prepare firmware partition: %w", err)
	}

	var written int64
	lastPercent := -1
	started := time.Now()
	buffer := make([]byte, 32*1024)
	for {
		n, readErr := response.Body.Read(buffer)
		if n > 0 {
			if err := flasher.Write(buffer[:n]); err != nil {
				return fmt.Errorf("failed to write firmware chunk: %w", err)
			}
			written += int64(n)

			if progress != nil && size > 0 {
				percent := int(written * 100 / size)
				if percent != lastPercent {
					lastPercent = percent
					elapsed := time.Since(started).Seconds()
					speed := 0
					if elapsed > 0 {
						speed = int(float64(written) / elapsed)
					}
					progress(percent, speed)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("firmware download interrupted: %w", readErr)
		}
	}

	if err := flasher.Commit(); err != nil {
		return fmt.Errorf("failed to commit firmware image: %w", err)
	}

	logger.Info("firmware image downloaded", "url", url, "bytes", written)
	return nil
}
