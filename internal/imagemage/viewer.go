package imagemage

import (
	"os/exec"
	"runtime"
)

// Viewer shows a produced image to the user.
type Viewer interface {
	Open(path string) error
}

// SystemViewer opens images with the desktop's default application
// (xdg-open, or open on macOS), detached from this process.
type SystemViewer struct{}

// viewerCommand is the launcher; tests replace it to avoid spawning a viewer.
var viewerCommand = func(path string) *exec.Cmd {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}
	return exec.Command(name, path)
}

// Open starts the viewer without waiting for it. Its standard streams are
// /dev/null and it runs in its own session so it survives the terminal closing.
func (SystemViewer) Open(path string) error {
	cmd := viewerCommand(path)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
