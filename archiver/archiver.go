// Package archiver packages a server-local folder into a ZIP for upload.
package archiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
	"github.com/spf13/afero"

	"github.com/cloudpin/cloudpin/logging"
)

// ErrEmptyFolder rejects archiving a folder with no regular files.
var ErrEmptyFolder = errors.New("archiver: folder contains no files")

// Summary describes what an archive of the folder would contain.
type Summary struct {
	Files      int
	TotalBytes int64
}

// Scan walks root and tallies the regular files an archive would include.
// It runs on any afero filesystem so callers can pre-flight a folder
// before paying for compression.
func Scan(fsys afero.Fs, root string) (Summary, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return Summary{}, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return Summary{}, fmt.Errorf("archiver: %q is not a directory", root)
	}

	var s Summary
	err = afero.Walk(fsys, root, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			s.Files++
			s.TotalBytes += fi.Size()
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk folder: %w", err)
	}
	if s.Files == 0 {
		return Summary{}, ErrEmptyFolder
	}
	return s, nil
}

// ZipFolder compresses the folder at root into a ZIP held in memory and
// returns the archive bytes together with the default remote name
// ("<folder>.zip"). Paths inside the archive are relative to root.
func ZipFolder(ctx context.Context, root string) ([]byte, string, error) {
	root = filepath.Clean(root)
	summary, err := Scan(afero.NewOsFs(), root)
	if err != nil {
		return nil, "", err
	}

	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{root: ""})
	if err != nil {
		return nil, "", fmt.Errorf("collect folder contents: %w", err)
	}

	var buf bytes.Buffer
	zip := archives.Zip{}
	if err := zip.Archive(ctx, &buf, files); err != nil {
		return nil, "", fmt.Errorf("zip folder: %w", err)
	}

	name := filepath.Base(root) + ".zip"
	logging.Sub("archiver").Info("folder archived",
		"root", root, "files", summary.Files, "rawBytes", summary.TotalBytes, "zipBytes", buf.Len())
	return buf.Bytes(), name, nil
}
