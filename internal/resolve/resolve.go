// Package resolve implements the target resolver (spec §4.C): given an
// absolute target path, find the build script responsible for it.
package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gup-build/gup/internal/gupfile"
	"github.com/gup-build/gup/internal/gupstatus"
)

// Script describes a resolved build script.
type Script struct {
	Path      string // absolute path to the executable .gup script
	BaseDir   string // ancestor directory the script runs in ($2 is relative to this)
	RelTarget string // target path expressed relative to BaseDir
}

// Resolve searches ancestors of target, nearest first, for a direct
// script or a matching Gupfile block (spec §4.C). It never consults or
// mutates any cache: each call is independent so concurrent resolutions
// of different targets share no mutable state.
func Resolve(target string) (*Script, error) {
	target = filepath.Clean(target)
	dir := filepath.Dir(target)

	for {
		if s, err := tryDirect(dir, target); err != nil {
			return nil, err
		} else if s != nil {
			return s, nil
		}

		if s, err := tryGupfile(dir, target); err != nil {
			return nil, err
		} else if s != nil {
			return s, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return nil, &gupstatus.Unbuildable{Target: target}
}

// tryDirect checks D/gup/<relpath>.gup then D/<relpath>.gup.
func tryDirect(d, target string) (*Script, error) {
	rel, err := filepath.Rel(d, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, nil
	}

	candidates := []string{
		filepath.Join(d, "gup", rel+".gup"),
		filepath.Join(d, rel+".gup"),
	}
	for _, c := range candidates {
		ok, err := isExecutableRegularFile(c)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Script{Path: c, BaseDir: d, RelTarget: rel}, nil
		}
	}
	return nil, nil
}

// tryGupfile checks D/Gupfile then D/gup/Gupfile.
func tryGupfile(d, target string) (*Script, error) {
	for _, candidate := range []struct {
		gupfilePath string
		scriptDir   string
	}{
		{filepath.Join(d, "Gupfile"), d},
		{filepath.Join(d, "gup", "Gupfile"), filepath.Join(d, "gup")},
	} {
		blocks, err := readGupfile(candidate.gupfilePath)
		if err != nil {
			return nil, err
		}
		if blocks == nil {
			continue
		}

		rel, err := filepath.Rel(d, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}

		for _, b := range blocks {
			matched, err := b.Matches(rel)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", candidate.gupfilePath, err)
			}
			if !matched {
				continue
			}
			scriptPath := filepath.Join(candidate.scriptDir, b.Script)
			ok, err := isExecutableRegularFile(scriptPath)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%s: script %q is not an executable regular file", candidate.gupfilePath, b.Script)
			}
			return &Script{Path: scriptPath, BaseDir: d, RelTarget: rel}, nil
		}
	}
	return nil, nil
}

func readGupfile(path string) ([]*gupfile.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	blocks, err := gupfile.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return blocks, nil
}

func isExecutableRegularFile(path string) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !st.Mode().IsRegular() {
		return false, nil
	}
	return st.Mode()&0o111 != 0, nil
}
