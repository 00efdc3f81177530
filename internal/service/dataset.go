package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DatasetService lists the dataset files under <data>/datasets.
type DatasetService struct {
	dir string
}

// NewDatasetService creates a dataset service rooted at dataDir.
func NewDatasetService(dataDir string) *DatasetService {
	return &DatasetService{dir: filepath.Join(dataDir, "datasets")}
}

// extToType lists the files the service recognises. Only .json files are
// loadable by name; the rest can be staged into DuckDB.
var extToType = map[string]string{
	".json":    "JSON",
	".geojson": "GeoJSON",
	".csv":     "CSV",
	".parquet": "Parquet",
}

// List returns the recognised dataset files sorted by name.
func (s *DatasetService) List() ([]DatasetFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DatasetFile{}, nil
		}
		return nil, err
	}

	files := []DatasetFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		fileType, ok := extToType[ext]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, DatasetFile{
			Name:     strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			File:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
			Loadable: ext == ".json",
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })
	return files, nil
}

// Find returns the file for a dataset name, preferring .json.
func (s *DatasetService) Find(name string) (DatasetFile, error) {
	files, err := s.List()
	if err != nil {
		return DatasetFile{}, err
	}
	var found *DatasetFile
	for i := range files {
		if files[i].Name != name {
			continue
		}
		if found == nil || files[i].Loadable {
			found = &files[i]
		}
	}
	if found == nil {
		return DatasetFile{}, fmt.Errorf("dataset %q not found", name)
	}
	return *found, nil
}

// Dir returns the datasets directory.
func (s *DatasetService) Dir() string {
	return s.dir
}

// Path returns the absolute path of a listed file.
func (s *DatasetService) Path(f DatasetFile) string {
	return filepath.Join(s.dir, f.File)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
