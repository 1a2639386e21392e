package source

import (
	"flowcam/video"
)

// Source is a producer stage at the head of a pipeline, such as a camera.
type Source interface {
	video.Stage

	// Connected returns whether the capture source is considered "live".
	Connected() bool

	// Close disconnects from the capture source and frees up all resources.
	Close()
}
