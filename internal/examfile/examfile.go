// Package examfile reads exam definitions from JSON or YAML files.
package examfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/shoshin/internal/model"
)

// Decode parses one exam or a list of exams. Files named *.yaml or *.yml are
// YAML; anything else is JSON. Every exam is normalized and validated.
func Decode(name string, data []byte) ([]model.Exam, error) {
	if isYAML(name) {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML %s: %w", name, err)
		}
		var err error
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert YAML %s: %w", name, err)
		}
	}

	var exams []model.Exam
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &exams); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	} else {
		var e model.Exam
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		exams = []model.Exam{e}
	}

	for i := range exams {
		exams[i].Normalize()
		if err := exams[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s exam %d: %w", name, i+1, err)
		}
	}
	return exams, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is the persistence used by Import.
type Store interface {
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash string) error
	CreateExam(e model.Exam) (string, error)
}

// Import stores the exams in data unless a file with the same name and
// content was imported before. It returns the number of exams created; 0
// with a nil error means the file was already imported.
func Import(s Store, name string, data []byte) (int, error) {
	hash := Hash(data)
	stored, err := s.GetImportedFileHash(name)
	if err != nil {
		return 0, fmt.Errorf("check import status: %w", err)
	}
	if stored == hash {
		slog.Info("exam file already imported, skipping", "file", name)
		return 0, nil
	}

	exams, err := Decode(name, data)
	if err != nil {
		return 0, err
	}
	for _, e := range exams {
		if _, err := s.CreateExam(e); err != nil {
			return 0, fmt.Errorf("create exam %q: %w", e.Title, err)
		}
	}
	if err := s.SetImportedFileHash(name, hash); err != nil {
		return 0, fmt.Errorf("record import: %w", err)
	}
	slog.Info("imported exams", "file", name, "count", len(exams))
	return len(exams), nil
}
