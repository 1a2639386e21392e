package record

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pillash/mp4util"
	log "github.com/sirupsen/logrus"
)

const (
	ExtVideo  = "_video.mp4"
	ExtThumb  = "_thumb.jpg"
	ExtVThumb = "_vthumb.mp4"

	// FileTimeLayout defines the format of filenames.
	// See https://golang.org/src/time/format.go.
	FileTimeLayout = "20060102-150405-Z0700"
)

// Clip is one recorded segment of stabilized video.
type Clip struct {
	ID   string
	Time time.Time

	VideoPath  string `json:"-"`
	ThumbPath  string `json:"-"`
	VThumbPath string `json:"-"`

	HaveVideo   bool
	HaveThumb   bool
	HaveVThumb  bool
	Size        int64
	DurationSec int
}

// Filesystem stores clips in a flat directory, named by trigger time.
type Filesystem struct {
	BasePath string

	clips []*Clip
	l     sync.Mutex
}

func NewFilesystem(path string) (*Filesystem, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	f := &Filesystem{
		BasePath: path,
	}
	if err := f.Refresh(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filesystem) NewClip(t time.Time) *Clip {
	id := t.Format(FileTimeLayout)
	base := filepath.Join(f.BasePath, id)
	return &Clip{
		ID:         id,
		Time:       t,
		VideoPath:  base + ExtVideo,
		ThumbPath:  base + ExtThumb,
		VThumbPath: base + ExtVThumb,
	}
}

// Refresh rescans the directory.
func (f *Filesystem) Refresh() error {
	m := make(map[string]*Clip)

	files, err := os.ReadDir(f.BasePath)
	if err != nil {
		return err
	}

	for _, file := range files {
		b := file.Name()
		if len(b) < len(FileTimeLayout) {
			continue
		}
		t, err := time.Parse(FileTimeLayout, b[:len(FileTimeLayout)])
		if err != nil {
			continue
		}

		id := b[:len(FileTimeLayout)]
		c := m[id]
		if c == nil {
			c = f.NewClip(t)
		}

		info, err := file.Info()
		if err != nil {
			continue
		}
		switch {
		case strings.HasSuffix(b, ExtVideo):
			c.HaveVideo = true
			c.Size += info.Size()
			if d, err := mp4util.Duration(c.VideoPath); err == nil {
				c.DurationSec = d
			}
		case strings.HasSuffix(b, ExtThumb):
			c.HaveThumb = true
			c.Size += info.Size()
		case strings.HasSuffix(b, ExtVThumb):
			c.HaveVThumb = true
			c.Size += info.Size()
		default:
			continue
		}

		m[id] = c
	}

	clips := make([]*Clip, 0, len(m))
	for _, c := range m {
		clips = append(clips, c)
	}
	// Newest first.
	sort.Slice(clips, func(i, j int) bool { return clips[i].Time.After(clips[j].Time) })

	f.l.Lock()
	defer f.l.Unlock()
	f.clips = clips
	return nil
}

func (f *Filesystem) Clips() []*Clip {
	f.l.Lock()
	defer f.l.Unlock()
	return append([]*Clip(nil), f.clips...)
}

func (f *Filesystem) ClipByID(id string) *Clip {
	f.l.Lock()
	defer f.l.Unlock()
	for _, c := range f.clips {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Delete removes every file of a clip.
func (f *Filesystem) Delete(id string) error {
	c := f.ClipByID(id)
	if c == nil {
		return fmt.Errorf("no clip %q", id)
	}
	for _, p := range []string{c.VideoPath, c.ThumbPath, c.VThumbPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	log.WithField("clip", id).Infof("Deleted clip")
	return f.Refresh()
}
