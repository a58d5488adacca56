package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FilePersistence round-trips the key set through a single JSON file.
// It is a development convenience, not a production design: the write is a
// temp-file-plus-rename so a crash never leaves a torn key set.
type FilePersistence struct {
	path string
}

func NewFilePersistence(path string) *FilePersistence {
	return &FilePersistence{path: path}
}

type fileKeyRecord struct {
	KID       string     `json:"kid"`
	Algorithm string     `json:"algorithm"`
	Material  []byte     `json:"material"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

func (p *FilePersistence) Save(ctx context.Context, set []KeyRecord) error {
	rows := make([]fileKeyRecord, 0, len(set))
	for _, k := range set {
		rows = append(rows, fileKeyRecord{
			KID:       k.KID,
			Algorithm: k.Algorithm,
			Material:  k.Material,
			Status:    string(k.Status),
			CreatedAt: k.CreatedAt,
			RotatedAt: k.RotatedAt,
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".keys-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (p *FilePersistence) Load(ctx context.Context) ([]KeyRecord, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rows []fileKeyRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("corrupt key file %s: %w", p.path, err)
	}

	set := make([]KeyRecord, 0, len(rows))
	for _, r := range rows {
		set = append(set, KeyRecord{
			KID:       r.KID,
			Algorithm: r.Algorithm,
			Material:  r.Material,
			Status:    Status(r.Status),
			CreatedAt: r.CreatedAt,
			RotatedAt: r.RotatedAt,
		})
	}
	return set, nil
}
