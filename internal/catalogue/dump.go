package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

// DumpName is the object name of the exported preview list.
const DumpName = "mangalib_manga_list.json"

// DumpPath joins prefix and DumpName into an object path.
func DumpPath(prefix string) string {
	if prefix == "" {
		return DumpName
	}
	return path.Join(prefix, DumpName)
}

// Save writes previews as a JSON array to objectPath and returns the store URI.
func Save(ctx context.Context, store manga.BlobStore, objectPath string, previews []Preview) (string, error) {
	if previews == nil {
		previews = []Preview{}
	}
	data, err := json.Marshal(previews)
	if err != nil {
		return "", fmt.Errorf("marshal previews: %w", err)
	}
	uri, err := store.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write catalogue dump: %w", err)
	}
	return uri, nil
}

// Load reads a dump written by Save.
func Load(ctx context.Context, store manga.BlobStore, objectPath string) ([]Preview, error) {
	data, err := store.GetObject(ctx, objectPath)
	if err != nil {
		return nil, fmt.Errorf("read catalogue dump: %w", err)
	}
	var previews []Preview
	if err := json.Unmarshal(data, &previews); err != nil {
		return nil, fmt.Errorf("decode catalogue dump: %w", err)
	}
	return previews, nil
}
