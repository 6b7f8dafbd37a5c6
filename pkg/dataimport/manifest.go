package dataimport

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
)

// WriteManifest stores res as <dir>/<run id>.json.
func WriteManifest(dir string, res *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create manifests dir")
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}
	path := filepath.Join(dir, res.RunID.String()+".json")
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write manifest")
}

func ReadManifest(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	return &res, nil
}
