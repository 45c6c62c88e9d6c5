// Package assets stores binary assets (audio answers, visual stimuli) in a
// Supabase Storage bucket and issues time-limited signed URLs for playback.
package assets

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

// Store wraps one Supabase Storage bucket. Object keys are random and stored
// alongside the owning row; clients never see raw keys, only signed URLs.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates an asset store for the given Supabase project and bucket.
func New(projectURL, serviceKey, bucket string) *Store {
	return &Store{
		client: storage.NewClient(projectURL+"/storage/v1", serviceKey, nil),
		bucket: bucket,
	}
}

// UploadAudio stores an audio answer recording and returns its object key.
func (s *Store) UploadAudio(data []byte, contentType string) (string, error) {
	return s.upload("answers", data, contentType)
}

// UploadVisual stores a visual stimulus image and returns its object key.
func (s *Store) UploadVisual(data []byte, contentType string) (string, error) {
	return s.upload("visuals", data, contentType)
}

func (s *Store) upload(prefix string, data []byte, contentType string) (string, error) {
	key := path.Join(prefix, uuid.NewString()+extensionFor(contentType))
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// Download fetches a stored object by key.
func (s *Store) Download(key string) ([]byte, error) {
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return data, nil
}

// SignedURL issues a time-limited URL for an object. The bucket is private,
// so this is the only way a browser reaches an asset.
func (s *Store) SignedURL(key string, ttl time.Duration) (string, error) {
	resp, err := s.client.CreateSignedUrl(s.bucket, key, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", key, err)
	}
	return resp.SignedURL, nil
}

// Remove deletes a stored object. A missing object is not an error worth
// surfacing to callers, so only transport failures come back.
func (s *Store) Remove(key string) error {
	if key == "" {
		return nil
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/webm":
		return ".webm"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
