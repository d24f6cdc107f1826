package media

import (
	"os"
	"path/filepath"
	"strings"
)

var artFilenames = []string{
	"folder.jpg", "folder.png",
	"cover.jpg", "cover.png",
	"album.jpg", "album.png",
	"front.jpg", "front.png",
	"Folder.jpg", "Folder.png",
	"Cover.jpg", "Cover.png",
}

// FindAlbumArt looks for cover art next to a local track, then in the
// parent (artist) folder. Remote locators have no art and return "".
func FindAlbumArt(locator string) string {
	path, ok := localPath(locator)
	if !ok {
		return ""
	}

	dir := filepath.Dir(path)
	for _, name := range artFilenames {
		if p := filepath.Join(dir, name); exists(p) {
			return p
		}
	}

	parent := filepath.Dir(dir)
	for _, name := range []string{"folder.jpg", "folder.png", "Folder.jpg", "Folder.png"} {
		if p := filepath.Join(parent, name); exists(p) {
			return p
		}
	}
	return ""
}

func localPath(locator string) (string, bool) {
	if locator == "" {
		return "", false
	}
	if rest, ok := strings.CutPrefix(locator, "file://"); ok {
		return rest, true
	}
	if strings.Contains(locator, "://") {
		return "", false
	}
	return locator, true
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
