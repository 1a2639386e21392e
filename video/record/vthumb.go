package record

import (
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

const ExtTemp = ".temp"

// VThumbProducer converts finished clips into short, sped up previews, one
// at a time.
type VThumbProducer struct {
	// Binary is the ffmpeg executable.
	Binary string

	c     chan *workItem
	close chan chan bool
}

type workItem struct {
	src, dst string
	donec    chan bool
}

func NewVThumbProducer(binary string) *VThumbProducer {
	f := &VThumbProducer{
		Binary: binary,
		c:      make(chan *workItem, 100),
		close:  make(chan chan bool, 1),
	}
	go f.run()
	return f
}

func (f *VThumbProducer) command(w *workItem) *exec.Cmd {
	return exec.Command(
		f.Binary,
		// Configure input from source file.
		"-i", w.src,
		// Thumbnails can be choppy to reduce size.
		"-r", "3",
		// Output format as libx264
		"-c:v", "libx264",
		// Speed up video and resize to thumbnail size.
		"-vf", "setpts=0.1*PTS,scale=320:-2",
		// Fast, fairly low quality.
		"-preset", "fast",
		"-crf", "28",
		// Keep CPU usage down. Thumbnail conversion doesn't need to be fast.
		"-threads", "1",
		// Limit duration to 5s (trim)
		"-t", "5",
		// Allow playback on a wider range of devices.
		"-pix_fmt", "yuv420p",
		"-profile:v", "baseline",
		"-level", "3.0",
		// Explicit format.
		"-f", "mp4",
		"-y",
		w.dst+ExtTemp,
	)
}

func (f *VThumbProducer) run() {
	for {
		var w *workItem
		select {
		case cc := <-f.close:
			cc <- true
			return
		case w = <-f.c:
		}

		c := f.command(w)
		if err := c.Start(); err != nil {
			log.Errorf("Failed to start thumbnail conversion for %v: %v", w.src, err)
			w.donec <- false
			continue
		}

		wait := make(chan error)
		go func() {
			wait <- c.Wait()
		}()

		select {
		case cc := <-f.close:
			c.Process.Kill()
			<-wait
			os.Remove(w.dst + ExtTemp)
			cc <- true
			return
		case err := <-wait:
			ok := false
			if err != nil {
				log.Warnf("Thumbnail conversion failed for %v: %v", w.src, err)
			} else if err := os.Rename(w.dst+ExtTemp, w.dst); err != nil {
				log.Errorf("Error moving thumbnail to its final destination: %v", err)
			} else {
				log.Infof("Thumbnail conversion succeeded for %v", w.src)
				ok = true
			}
			w.donec <- ok
		}
	}
}

// Process queues a conversion of src into dst. The returned channel reports
// success, or is nil when the backlog is full.
func (f *VThumbProducer) Process(src, dst string) <-chan bool {
	w := &workItem{
		src:   src,
		dst:   dst,
		donec: make(chan bool, 1),
	}
	select {
	case f.c <- w:
	default:
		log.Warnf("Thumbnail processing dropped due to backlog")
		return nil
	}
	return w.donec
}

func (f *VThumbProducer) Close() {
	c := make(chan bool)
	f.close <- c
	<-c
}
