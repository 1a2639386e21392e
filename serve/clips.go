package serve

import (
	"fmt"
	"io"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"flowcam/video/record"
)

// TODO limit read parallelism to avoid disk thrashing?

type ClipsResponse struct {
	Items []*record.Clip

	ItemsTotalSize int64
	ItemsCount     int
}

// ClipsServer lists the recorded clips as JSON.
type ClipsServer struct {
	FS *record.Filesystem
}

func (s *ClipsServer) BuildResponse() *ClipsResponse {
	resp := &ClipsResponse{Items: s.FS.Clips()}
	for _, c := range resp.Items {
		resp.ItemsTotalSize += c.Size
	}
	resp.ItemsCount = len(resp.Items)
	return resp
}

func (s *ClipsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.BuildResponse())
}

// FileServer serves one file of a clip, selected by the "id" form value.
type FileServer struct {
	FS          *record.Filesystem
	PathFunc    func(c *record.Clip) string
	ContentType string
}

func NewVideoServer(fs *record.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(c *record.Clip) string {
			return c.VideoPath
		},
		ContentType: "video/mp4",
	}
}

func NewThumbServer(fs *record.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(c *record.Clip) string {
			return c.ThumbPath
		},
		ContentType: "image/jpeg",
	}
}

func NewVThumbServer(fs *record.Filesystem) *FileServer {
	return &FileServer{
		FS: fs,
		PathFunc: func(c *record.Clip) string {
			return c.VThumbPath
		},
		ContentType: "video/mp4",
	}
}

func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.Form.Get("id")
	c := s.FS.ClipByID(id)
	if c == nil {
		http.Error(w, fmt.Sprintf("No clip found for id %v", id), http.StatusNotFound)
		return
	}

	f, err := os.Open(s.PathFunc(c))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Add("Content-Type", s.ContentType)
	io.Copy(w, f)
}

// DeleteServer removes a clip on POST.
type DeleteServer struct {
	FS *record.Filesystem
}

func (s *DeleteServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.Form.Get("id")
	if s.FS.ClipByID(id) == nil {
		http.Error(w, fmt.Sprintf("No clip found for id %v", id), http.StatusNotFound)
		return
	}

	if err := s.FS.Delete(id); err != nil {
		log.Errorf("Failed to delete clip %v: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
