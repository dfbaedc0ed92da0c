package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// ArtifactUsage summarizes model artifacts on disk.
type ArtifactUsage struct {
	Checkpoints int   `json:"checkpoints"`
	FinalModel  bool  `json:"final_model"`
	Bytes       int64 `json:"bytes"`
}

// ArtifactExtensions are the file suffixes counted as model artifacts.
var ArtifactExtensions = []string{".ckpt", ".model"}

// DiskUsage summarizes the artifacts in checkpointDir plus the sizes of extra files
// such as the run database and the gallery index. Missing paths contribute nothing.
func DiskUsage(checkpointDir string, extra ...string) (ArtifactUsage, error) {
	var usage ArtifactUsage
	if checkpointDir != "" {
		entries, err := os.ReadDir(checkpointDir)
		if err != nil && !os.IsNotExist(err) {
			return usage, err
		}
		for _, e := range entries {
			if e.IsDir() || !isArtifact(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return usage, err
			}
			usage.Bytes += info.Size()
			if strings.HasSuffix(e.Name(), ".ckpt") {
				usage.Checkpoints++
			} else {
				usage.FinalModel = true
			}
		}
	}
	for _, p := range extra {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return usage, err
		}
		if !info.IsDir() {
			usage.Bytes += info.Size()
		}
	}
	return usage, nil
}

func isArtifact(name string) bool {
	ext := filepath.Ext(name)
	for _, a := range ArtifactExtensions {
		if ext == a {
			return true
		}
	}
	return false
}
