package receipts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// Repository defines persistence operations for the registry index.
type Repository interface {
	Load(ctx context.Context) (map[string]*bundle.Receipt, error)
	Save(ctx context.Context, index map[string]*bundle.Receipt) error
}

// FileRepository persists the registry index to a JSON file on disk.
// JSON is produced and consumed via protojson over a structpb.Struct so the
// file matches the messages the registry exchanges over gRPC.
type FileRepository struct {
	// path is the filesystem location of the JSON index file.
	path string
	// mu protects concurrent access to the index file.
	mu sync.Mutex
}

const (
	// indexFilePermissions is the permission of the written index file.
	indexFilePermissions = 0o644

	// Keys of a single index entry.
	keyID          = "id"
	keyLocation    = "location"
	keySHA256      = "sha256"
	keyPublishedAt = "published_at"
)

var (
	// ErrNotFound is returned when the index file does not exist yet.
	ErrNotFound = errors.New("registry index not found")
	// errMalformedEntry is returned when an index entry is not an object.
	errMalformedEntry = errors.New("malformed index entry")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the index from disk, keyed by bundle name.
func (r *FileRepository) Load(_ context.Context) (map[string]*bundle.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read index file: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode index file: %w", err)
	}

	return fromProto(&doc)
}

// Save writes the index to disk through a temporary file renamed into place.
func (r *FileRepository) Save(_ context.Context, index map[string]*bundle.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := toProto(index)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary index file: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // Already renamed on success.

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write index file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}

	if err = os.Chmod(tmpPath, indexFilePermissions); err != nil {
		return fmt.Errorf("chmod index file: %w", err)
	}

	if err = os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}

	return nil
}

// fromProto converts the index document into receipts.
func fromProto(doc *structpb.Struct) (map[string]*bundle.Receipt, error) {
	index := make(map[string]*bundle.Receipt, len(doc.GetFields()))

	for name, value := range doc.GetFields() {
		entry := value.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("%w: %s", errMalformedEntry, name)
		}

		fields := entry.GetFields()

		var publishedAt time.Time
		if raw := fields[keyPublishedAt].GetStringValue(); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: published_at: %w", errMalformedEntry, name, err)
			}

			publishedAt = parsed
		}

		index[name] = &bundle.Receipt{
			ID:          fields[keyID].GetStringValue(),
			Bundle:      name,
			Location:    fields[keyLocation].GetStringValue(),
			Checksum:    fields[keySHA256].GetStringValue(),
			PublishedAt: publishedAt,
		}
	}

	return index, nil
}

// toProto converts receipts into the index document. Entries are added in
// name order so the output is stable.
func toProto(index map[string]*bundle.Receipt) (*structpb.Struct, error) {
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}

	sort.Strings(names)

	doc := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(index))}

	for _, name := range names {
		receipt := index[name]

		entry, err := structpb.NewStruct(map[string]any{
			keyID:          receipt.ID,
			keyLocation:    receipt.Location,
			keySHA256:      receipt.Checksum,
			keyPublishedAt: receipt.PublishedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}

		doc.Fields[name] = structpb.NewStructValue(entry)
	}

	return doc, nil
}
