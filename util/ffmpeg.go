package util

import (
	"fmt"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// LocateFFmpeg finds the ffmpeg binary, preferring the FFMPEG environment
// variable over $PATH.
func LocateFFmpeg() (string, error) {
	if p := os.Getenv("FFMPEG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("FFMPEG=%q: %w", p, err)
		}
		return p, nil
	}
	return exec.LookPath("ffmpeg")
}

func LocateFFmpegOrDie() string {
	p, err := LocateFFmpeg()
	if err != nil {
		log.Errorf("Unable to locate ffmpeg binary: %v", err)
		log.Errorf("Either ensure the ffmpeg binary is in $PATH,")
		log.Fatalf("or set the FFMPEG environment variable.")
	}
	return p
}
