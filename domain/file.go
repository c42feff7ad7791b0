package domain

import "time"

// FileRecord describes an uploaded attachment stored on disk.
type FileRecord struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	FileName     string    `json:"fileName"`
	Path         string    `json:"path"`
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	UploadedBy   string    `json:"uploadedBy"`
	UploadedAt   time.Time `json:"uploadedAt"`
}
