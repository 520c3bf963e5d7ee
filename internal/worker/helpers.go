package worker

import (
	"os"
	"strings"

	"labsync/internal/queue"
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// datasetFromFiles derives a dataset key from the first file path following
// the {subject}/{session}/{dataset} layout. Jobs created without an explicit
// key still get their post-upload hook scoped to the right dataset.
func datasetFromFiles(files []queue.StagedFile) queue.DatasetKey {
	for _, file := range files {
		parts := strings.Split(file.Path, "/")
		if len(parts) < 4 {
			continue
		}
		return queue.DatasetKey{Subject: parts[0], Session: parts[1], Dataset: parts[2]}
	}
	return queue.DatasetKey{}
}
