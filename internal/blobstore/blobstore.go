package blobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

const manifestName = "_manifest.json"

// BlobInfo is the manifest record for one stored blob.
type BlobInfo struct {
	BlobID           string `json:"blob_id"`
	OriginalFilename string `json:"original_filename"`
	FileExtension    string `json:"file_extension"`
	SizeBytes        int64  `json:"size_bytes"`
	CreatedAt        string `json:"created_at"`
	StoragePath      string `json:"storage_path"`
}

// Store keeps uploaded documents as one file per blob under root, with a
// single JSON manifest mapping blob_id to its record. The manifest is
// re-read on every operation; callers never observe a stale cache.
type Store struct {
	root string
	log  *logger.Logger
}

func New(root string, baseLog *logger.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, apperr.Validation("blobstore_init", "storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "blobstore_init", "create storage root failed", err)
	}
	return &Store{root: root, log: baseLog.With("component", "BlobStore")}, nil
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.root, manifestName)
}

func (s *Store) loadManifest() (map[string]BlobInfo, error) {
	raw, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]BlobInfo{}, nil
		}
		return nil, apperr.New(apperr.CodeStorageUnavailable, "manifest_read", "read manifest failed", err)
	}
	var manifest map[string]BlobInfo
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "manifest_read", "decode manifest failed", err)
	}
	if manifest == nil {
		manifest = map[string]BlobInfo{}
	}
	return manifest, nil
}

// saveManifest persists atomically: write a temp file next to the target
// and rename over it.
func (s *Store) saveManifest(manifest map[string]BlobInfo) error {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperr.New(apperr.CodeStorageUnavailable, "manifest_write", "encode manifest failed", err)
	}
	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return apperr.New(apperr.CodeStorageUnavailable, "manifest_write", "write manifest temp failed", err)
	}
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		return apperr.New(apperr.CodeStorageUnavailable, "manifest_write", "rename manifest failed", err)
	}
	return nil
}

func newBlobID() string {
	return "blob_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Save writes the blob file and appends its manifest record. The id is
// returned only after both writes succeed.
func (s *Store) Save(content []byte, originalFilename string) (string, error) {
	if strings.TrimSpace(originalFilename) == "" {
		return "", apperr.Validation("blob_save", "original filename is required")
	}

	blobID := newBlobID()
	ext := strings.ToLower(filepath.Ext(originalFilename))
	storagePath := filepath.Join(s.root, blobID+ext)

	if err := os.WriteFile(storagePath, content, 0o644); err != nil {
		return "", apperr.New(apperr.CodeStorageUnavailable, "blob_save", "write blob file failed", err)
	}

	info := BlobInfo{
		BlobID:           blobID,
		OriginalFilename: originalFilename,
		FileExtension:    ext,
		SizeBytes:        int64(len(content)),
		CreatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
		StoragePath:      storagePath,
	}

	manifest, err := s.loadManifest()
	if err != nil {
		return "", err
	}
	manifest[blobID] = info
	if err := s.saveManifest(manifest); err != nil {
		return "", err
	}

	s.log.Debug("blob saved", "blob_id", blobID, "filename", originalFilename, "size_bytes", info.SizeBytes)
	return blobID, nil
}

// Get resolves the on-disk path for a blob. A manifest entry whose file is
// missing is reported as not found; the caller decides whether to heal the
// manifest.
func (s *Store) Get(blobID string) (string, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return "", err
	}
	info, ok := manifest[blobID]
	if !ok {
		return "", apperr.NotFound("blob_get", fmt.Sprintf("blob %s not in manifest", blobID))
	}
	if _, err := os.Stat(info.StoragePath); err != nil {
		return "", apperr.NotFound("blob_get", fmt.Sprintf("blob %s file missing at %s", blobID, info.StoragePath))
	}
	return info.StoragePath, nil
}

func (s *Store) GetInfo(blobID string) (BlobInfo, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return BlobInfo{}, err
	}
	info, ok := manifest[blobID]
	if !ok {
		return BlobInfo{}, apperr.NotFound("blob_get_info", fmt.Sprintf("blob %s not in manifest", blobID))
	}
	return info, nil
}

func (s *Store) List() ([]BlobInfo, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	out := make([]BlobInfo, 0, len(manifest))
	for _, info := range manifest {
		out = append(out, info)
	}
	return out, nil
}

// Delete removes the file first, then the manifest entry, so a failure
// mid-delete leaves a retry safe. Downstream Library vectors are not
// purged here; the caller issues the delete-by-filter.
func (s *Store) Delete(blobID string) (bool, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return false, err
	}
	info, ok := manifest[blobID]
	if !ok {
		return false, nil
	}

	if err := os.Remove(info.StoragePath); err != nil && !os.IsNotExist(err) {
		return false, apperr.New(apperr.CodeStorageUnavailable, "blob_delete", "remove blob file failed", err)
	}

	delete(manifest, blobID)
	if err := s.saveManifest(manifest); err != nil {
		return false, err
	}
	s.log.Debug("blob deleted", "blob_id", blobID)
	return true, nil
}
