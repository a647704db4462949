package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// WriteMarkdown writes a report file, creating the directory if needed.
func WriteMarkdown(dir, fileName, content string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", dir, err)
	}

	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %v", path, err)
	}
	log.Printf("written to: %s", path)
	return nil
}
