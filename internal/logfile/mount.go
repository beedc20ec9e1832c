package logfile

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// volumeMarkers are substrings of the volume names flight controllers mount
// their SD card under.
var volumeMarkers = []string{"PIXHAWK", "APM", "PX4", "FMUV", "MINDPX"}

// MountRoots returns the directories removable media is usually mounted
// beneath for the given user.
func MountRoots(user string) []string {
	if user == "" {
		user = "pi"
	}
	return []string{
		"/media/pi",
		filepath.Join("/media", user),
		"/mnt",
		filepath.Join("/run/media", user),
	}
}

// DiscoverMounts looks for flight-controller volumes directly beneath each of
// roots and returns the log directories they contain. Both the APM layout
// (VOLUME/APM/logs) and a top-level VOLUME/logs are recognised.
func DiscoverMounts(fs afero.Fs, roots []string) []string {
	var dirs []string
	seen := make(map[string]bool)

	for _, root := range roots {
		if seen[root] {
			continue
		}
		seen[root] = true

		entries, err := afero.ReadDir(fs, root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !isFlightVolume(entry.Name()) {
				continue
			}
			volume := filepath.Join(root, entry.Name())
			for _, sub := range []string{filepath.Join("APM", "logs"), "logs"} {
				dir := filepath.Join(volume, sub)
				if ok, _ := afero.IsDir(fs, dir); ok {
					dirs = append(dirs, dir)
				}
			}
		}
	}
	return dirs
}

func isFlightVolume(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range volumeMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
