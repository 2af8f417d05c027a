package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileRepository keeps the catalog in a JSON or YAML file. Both the list
// layout and the older name-keyed map layout are accepted on load; saves
// always write the list layout in the file's own format.
type FileRepository struct {
	mu        sync.RWMutex
	path      string
	merchants []Merchant
}

// legacyEntry is the map layout: {"<name>": {"description": ..., "wallet_address": ...}}.
type legacyEntry struct {
	Description     string `yaml:"description"`
	WalletAddress   string `yaml:"wallet_address"`
	ReceiverAddress string `yaml:"receiver_address"`
	BusinessType    string `yaml:"business_type"`
}

// OpenFile loads the catalog at path. A missing file yields an empty catalog
// that is created on first registration.
func OpenFile(path string) (*FileRepository, error) {
	r := &FileRepository{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read merchants file: %w", err)
	}
	merchants, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse merchants file %s: %w", path, err)
	}
	r.merchants = merchants
	return r, nil
}

// Parse decodes a catalog document. JSON is valid YAML, so one decoder serves both.
func Parse(raw []byte) ([]Merchant, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []Merchant
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		out := make([]Merchant, 0, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			var entry legacyEntry
			if err := root.Content[i+1].Decode(&entry); err != nil {
				return nil, err
			}
			addr := entry.WalletAddress
			if addr == "" {
				addr = entry.ReceiverAddress
			}
			out = append(out, Merchant{
				Name:            root.Content[i].Value,
				Description:     entry.Description,
				ReceiverAddress: addr,
				BusinessType:    entry.BusinessType,
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected catalog layout")
	}
}

func (r *FileRepository) List(_ context.Context) ([]Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Merchant, len(r.merchants))
	copy(out, r.merchants)
	return out, nil
}

func (r *FileRepository) Create(_ context.Context, m Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.merchants {
		if SameName(existing.Name, m.Name) {
			return ErrDuplicateName
		}
	}
	next := append(append([]Merchant(nil), r.merchants...), m)
	if err := r.save(next); err != nil {
		return err
	}
	r.merchants = next
	return nil
}

func (r *FileRepository) save(merchants []Merchant) error {
	var (
		payload []byte
		err     error
	)
	switch strings.ToLower(filepath.Ext(r.path)) {
	case ".yaml", ".yml":
		payload, err = yaml.Marshal(merchants)
	default:
		payload, err = json.MarshalIndent(merchants, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode merchants: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create merchants dir: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write merchants file: %w", err)
	}
	return os.Rename(tmp, r.path)
}
