package archive

import (
	"context"
	"fmt"
	"log"
	"time"
)

const downloadURLTTL = 15 * time.Minute

// Export is a built workspace archive. DownloadURL is set only when an
// object store is configured and the upload succeeded.
type Export struct {
	Filename    string `json:"filename"`
	Data        []byte `json:"-"`
	ObjectName  string `json:"objectName,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Service builds workspace archives and optionally mirrors them to an
// S3-compatible object store.
type Service struct {
	objects *ObjectStore // nil means download-only
}

// NewService creates an archive service. objects may be nil when no object
// storage is configured; exports are then served directly from memory.
func NewService(objects *ObjectStore) *Service {
	return &Service{objects: objects}
}

// ExportWorkspace zips the given files. When object storage is available the
// archive is also uploaded and a presigned download link attached; upload
// failures are logged, not fatal, since the caller still has the bytes.
func (s *Service) ExportWorkspace(ctx context.Context, workspaceName string, files []File) (Export, error) {
	data, err := BuildZip(workspaceName, files)
	if err != nil {
		return Export{}, fmt.Errorf("build archive: %w", err)
	}

	exp := Export{
		Filename: fmt.Sprintf("%s-%s.zip", sanitizeSegment(workspaceName), time.Now().Format("20060102-150405")),
		Data:     data,
	}

	if s.objects == nil {
		return exp, nil
	}

	objectName := exp.Filename
	if _, err := s.objects.Upload(ctx, objectName, data); err != nil {
		log.Printf("archive: upload %s: %v", objectName, err)
		return exp, nil
	}
	exp.ObjectName = objectName

	url, err := s.objects.PresignedDownload(ctx, objectName, downloadURLTTL)
	if err != nil {
		log.Printf("archive: presign %s: %v", objectName, err)
		return exp, nil
	}
	exp.DownloadURL = url
	return exp, nil
}
