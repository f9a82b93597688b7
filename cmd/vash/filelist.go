package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/vash/persistence"
)

// readFileList reads one video path per line. Blank lines and lines
// starting with # are ignored.
func readFileList(r io.Reader) ([]string, error) {
	var paths []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

func loadFileList(path string) ([]string, error) {
	var paths []string
	err := persistence.LoadFromFile(path, func(r io.Reader) error {
		var err error
		paths, err = readFileList(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("file list: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("file list %s names no videos", path)
	}
	return paths, nil
}
