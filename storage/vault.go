package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

// vaultStore implements a blob store on a HashiCorp Vault KV v2 mount.
// Each object is one secret holding base64 content, digest and digest type.
// It suits small, sensitive objects; payloads are buffered in memory.
type vaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultOffer creates a new Vault offer authenticated with token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "offers/vault-1")
//   - token: Vault token, usually taken from VAULT_TOKEN
func NewVaultOffer(id, address, mountPath, dataPath, token string, log *slog.Logger) (*Offer, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	store := &vaultStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}
	uri := fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), store.mountPath, store.dataPath)
	return newOffer(id, uri, store, newMemoryJournal(), log), nil
}

func (s *vaultStore) dataURL(key string) string {
	return path.Join(s.mountPath, "data", s.dataPath, key)
}

func (s *vaultStore) metadataURL(key string) string {
	return path.Join(s.mountPath, "metadata", s.dataPath, key)
}

func (s *vaultStore) read(ctx context.Context, key string) (map[string]interface{}, map[string]interface{}, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataURL(key))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		return nil, nil, interfaces.ErrObjectNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("%w: invalid data format in Vault response", interfaces.ErrInconsistentState)
	}
	metadata, _ := secret.Data["metadata"].(map[string]interface{})
	return data, metadata, nil
}

func (s *vaultStore) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	content, err := bufferBody(body, size)
	if err != nil {
		return 0, err
	}
	_, err = s.client.Logical().WriteWithContext(ctx, s.dataURL(key), map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(content),
			"size":    len(content),
		},
	})
	if err != nil {
		s.log.Error("Failed to write to Vault", slog.String("key", key), "err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return int64(len(content)), nil
}

func (s *vaultStore) setDigest(ctx context.Context, key string, dt cryptoutils.DigestType, digest string) error {
	_, err := s.client.Logical().JSONMergePatch(ctx, s.dataURL(key), map[string]interface{}{
		"data": map[string]interface{}{
			"digest":      digest,
			"digest_type": string(dt),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *vaultStore) get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	data, _, err := s.read(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	encoded, _ := data["content"].(string)
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid content encoding: %v", interfaces.ErrInconsistentState, err)
	}
	return io.NopCloser(strings.NewReader(string(content))), int64(len(content)), nil
}

func (s *vaultStore) stat(ctx context.Context, key string) (*blobInfo, error) {
	data, metadata, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	info := &blobInfo{Key: key}
	if encoded, ok := data["content"].(string); ok {
		info.Size = int64(base64.StdEncoding.DecodedLen(len(encoded)) - strings.Count(encoded, "="))
	}
	info.Digest, _ = data["digest"].(string)
	if dt, ok := data["digest_type"].(string); ok {
		info.DigestType = cryptoutils.DigestType(dt)
	}
	if created, ok := metadata["created_time"].(string); ok {
		info.LastModified, _ = time.Parse(time.RFC3339Nano, created)
	}
	return info, nil
}

func (s *vaultStore) remove(ctx context.Context, key string) error {
	if _, _, err := s.read(ctx, key); err != nil {
		return err
	}
	// Deleting the metadata path removes every version of the secret.
	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataURL(key)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *vaultStore) list(ctx context.Context, container, cursor string, limit int) ([]blobInfo, string, error) {
	secret, err := s.client.Logical().ListWithContext(ctx, s.metadataURL(container))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, "", nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	names := make([]string, 0, len(raw))
	for _, k := range raw {
		name, ok := k.(string)
		if ok && !strings.HasSuffix(name, "/") && name > cursor {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	next := ""
	if len(names) > limit {
		names = names[:limit]
		next = names[limit-1]
	}
	infos := make([]blobInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, blobInfo{Key: container + "/" + name})
	}
	return infos, next, nil
}

func (s *vaultStore) capacity(ctx context.Context) (*interfaces.Capacity, error) {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := s.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if !health.Initialized || health.Sealed {
		return nil, fmt.Errorf("%w: vault sealed or not initialized", interfaces.ErrBackendUnavailable)
	}
	return &interfaces.Capacity{UsableSpace: UnboundedCapacity, UsedSpace: -1}, nil
}

func (s *vaultStore) close() error {
	return nil
}
