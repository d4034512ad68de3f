// Package scanner reads wheel files from an input directory and extracts
// the metadata the resolver plans from.
package scanner

import (
	"archive/zip"
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/wheel"
)

// Scan reads every *.whl in dir, sorted by filename. A wheel filename that
// does not parse is a fatal classification error: aborting beats planning
// from a corrupted name.
func Scan(dir string) ([]wheel.Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".whl") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	wheels := make([]wheel.Info, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := ReadWheel(path)
		if err != nil {
			return nil, err
		}
		wheels = append(wheels, info)
	}
	return wheels, nil
}

// ReadWheel parses a wheel's filename and its embedded METADATA file.
func ReadWheel(path string) (wheel.Info, error) {
	filename := filepath.Base(path)
	name, version, tags, err := wheel.ParseFilename(filename)
	if err != nil {
		return wheel.Info{}, err
	}
	info := wheel.Info{
		Name:     name,
		Version:  version,
		Filename: filename,
		Path:     path,
		Tags:     tags,
	}
	requires, summary, err := readMetadata(path)
	if err != nil {
		// Missing metadata degrades planning but is not fatal: the wheel
		// itself still classifies by its tags.
		log.Printf("scanner: no metadata for %s: %v", filename, err)
		return info, nil
	}
	info.Requires = requires
	info.Summary = summary
	return info, nil
}

func readMetadata(path string) ([]wheel.Requirement, string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", err
	}
	defer zr.Close()

	var metaFile *zip.File
	for _, f := range zr.File {
		if strings.Contains(f.Name, ".dist-info/") && strings.HasSuffix(f.Name, "METADATA") {
			metaFile = f
			break
		}
	}
	if metaFile == nil {
		return nil, "", fmt.Errorf("wheel missing METADATA file")
	}
	rc, err := metaFile.Open()
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	var requires []wheel.Requirement
	var summary string
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		// Headers end at the first blank line; the body is the description.
		if strings.TrimSpace(line) == "" {
			break
		}
		switch {
		case strings.HasPrefix(line, "Requires-Dist:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "Requires-Dist:"))
			req, err := wheel.ParseRequirement(raw)
			if err != nil {
				log.Printf("scanner: skipping requirement %q in %s: %v", raw, filepath.Base(path), err)
				continue
			}
			requires = append(requires, req)
		case strings.HasPrefix(line, "Summary:"):
			summary = strings.TrimSpace(strings.TrimPrefix(line, "Summary:"))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, "", err
	}
	return requires, summary, nil
}
