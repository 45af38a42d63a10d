package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MakeDirectory creates a directory at the given path, including any parents that do not exist
// yet. If the path already refers to a directory, nothing is done.
func MakeDirectory(dirToMake string) error {
	dirInfo, err := os.Stat(dirToMake)
	if err != nil {
		// Directory does not exist, as expected.
		if os.IsNotExist(err) {
			return errors.WithStack(os.MkdirAll(dirToMake, 0755))
		}
		return errors.WithStack(err)
	}

	// The path exists; make sure it is a directory and not a file
	if !dirInfo.IsDir() {
		return fmt.Errorf("could not create directory '%s' because a file with that name exists", dirToMake)
	}
	return nil
}

// CreateFile will create a file at the given path and file name combination. If the path is the
// empty string, the file will be created in the current working directory.
func CreateFile(path string, fileName string) (*os.File, error) {
	// By default, the path will be the name of the file
	filePath := fileName

	// Check to see if the file needs to be created in another directory or the working directory
	if path != "" {
		// Make the directory, if it does not exist already
		if err := MakeDirectory(path); err != nil {
			return nil, err
		}
		// Since the path is non-empty, concatenate the path with the name of the file
		filePath = filepath.Join(path, fileName)
	}

	// Create the file
	file, err := os.Create(filePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return file, nil
}
