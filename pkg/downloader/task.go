package downloader

import (
	"net/url"
	"path"
	"strconv"

	"maro/pkg/constants"
)

// Task is one download tracked by the manager.
type Task struct {
	GID             string
	Name            string
	Status          constants.DownloadStatus
	TotalLength     int64
	CompletedLength int64
}

// Complete reports whether the download has finished successfully.
func (t *Task) Complete() bool {
	return t.Status == constants.DownloadStatusComplete
}

// Failed reports whether the download stopped with an error.
func (t *Task) Failed() bool {
	return t.Status == constants.DownloadStatusError
}

// Progress returns the downloaded fraction in [0, 1].
func (t *Task) Progress() float64 {
	if t.TotalLength <= 0 {
		return 0
	}
	return float64(t.CompletedLength) / float64(t.TotalLength)
}

// statusRecord is the manager's wire form of a task. Lengths come back
// as decimal strings.
type statusRecord struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	Files           []struct {
		Path string `json:"path"`
		URIs []struct {
			URI string `json:"uri"`
		} `json:"uris"`
	} `json:"files"`
}

func (r statusRecord) toTask() *Task {
	task := &Task{
		GID:    r.GID,
		Status: constants.DownloadStatus(r.Status),
	}
	task.TotalLength, _ = strconv.ParseInt(r.TotalLength, 10, 64)
	task.CompletedLength, _ = strconv.ParseInt(r.CompletedLength, 10, 64)
	task.Name = r.name()
	return task
}

// name resolves a human-readable task name: the output file's base
// name when known, else the source URL's base name, else the GID.
func (r statusRecord) name() string {
	if len(r.Files) > 0 {
		if p := r.Files[0].Path; p != "" {
			return path.Base(p)
		}
		if len(r.Files[0].URIs) > 0 {
			if u, err := url.Parse(r.Files[0].URIs[0].URI); err == nil && u.Path != "" {
				return path.Base(u.Path)
			}
		}
	}
	return r.GID
}
