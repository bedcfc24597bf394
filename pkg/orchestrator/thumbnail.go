package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
)

// ThumbnailTask generates a poster frame for a job's media in the
// background. It only ever touches the thumbnail fields of the record,
// so it can finish after the job itself is already terminal without
// disturbing status or progress.
type ThumbnailTask struct {
	Meta   *metastore.Store
	Binary string
	Log    *logging.Logger
}

func NewThumbnailTask(meta *metastore.Store, log *logging.Logger) *ThumbnailTask {
	return &ThumbnailTask{Meta: meta, Binary: "ffmpeg", Log: log}
}

// Generate extracts one frame at second 1, scaled to 320px wide.
func (t *ThumbnailTask) Generate(jobID, mediaPath, thumbPath string) {
	cmd := exec.Command(t.Binary,
		"-y",
		"-ss", "00:00:01",
		"-i", mediaPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-vf", "scale=320:-1",
		thumbPath,
	)
	cmd.Stdout = nil
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		if _, statErr := os.Stat(thumbPath); statErr == nil {
			t.merge(jobID, map[string]interface{}{
				"thumbnailExists":    true,
				"thumbnailCreatedAt": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		err = fmt.Errorf("ffmpeg succeeded but wrote no output")
	}
	t.merge(jobID, map[string]interface{}{
		"thumbnailExists": false,
		"thumbnailError":  err.Error(),
	})
}

func (t *ThumbnailTask) merge(jobID string, fields map[string]interface{}) {
	if _, err := t.Meta.Merge(jobID, fields); err != nil {
		t.Log.Warn("thumbnail metadata merge failed", map[string]interface{}{"job": jobID, "error": err.Error()})
	}
}
