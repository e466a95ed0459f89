package compression

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// TempPattern is the name pattern of in-flight output files. Walkers treat
// matching names as engine-internal.
const TempPattern = ".pgl-filebackup-*.tmp"

// Result reports the byte counts of a file transform.
type Result struct {
	BytesRead    int64 // bytes consumed from the source file
	BytesWritten int64 // bytes written to the destination file
}

// EncodeFile compresses srcPath into dstPath using kind.
func EncodeFile(srcPath, dstPath string, kind Kind) (Result, error) {
	return transformFile("encode", srcPath, dstPath, func(dst io.Writer, src io.Reader) (int64, int64, error) {
		return Encode(dst, src, kind)
	})
}

// DecodeFile decompresses srcPath into dstPath using kind.
func DecodeFile(srcPath, dstPath string, kind Kind) (Result, error) {
	return transformFile("decode", srcPath, dstPath, func(dst io.Writer, src io.Reader) (int64, int64, error) {
		return Decode(dst, src, kind)
	})
}

// transformFile streams srcPath through fn into a temp file beside dstPath and
// renames it into place. On any failure nothing is left at dstPath.
func transformFile(op, srcPath, dstPath string, fn func(dst io.Writer, src io.Reader) (int64, int64, error)) (res Result, retErr error) {
	srcF, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, resultcode.New(resultcode.FileNotFound, op, srcPath, err)
		}
		return res, resultcode.New(resultcode.FileOpenError, op, srcPath, err)
	}
	defer srcF.Close()

	// We create it in the same directory as the target to ensure atomic rename.
	targetF, err := os.CreateTemp(filepath.Dir(dstPath), TempPattern)
	if err != nil {
		return res, resultcode.New(resultcode.FileWriteError, op, dstPath, err)
	}
	tempName := targetF.Name()

	// Ensure cleanup on error
	defer func() {
		if retErr != nil {
			targetF.Close()
			os.Remove(tempName)
		}
	}()

	read, written, err := fn(targetF, srcF)
	res = Result{BytesRead: read, BytesWritten: written}
	if err != nil {
		var rc *resultcode.Error
		if errors.As(err, &rc) {
			path := srcPath
			if rc.Code == resultcode.FileWriteError {
				path = dstPath
			}
			return res, resultcode.New(rc.Code, op, path, rc.Err)
		}
		return res, resultcode.New(resultcode.CompressionError, op, srcPath, err)
	}

	if err := targetF.Chmod(util.UserWritableFilePerms); err != nil {
		return res, resultcode.New(resultcode.FileWriteError, op, dstPath, err)
	}
	// Close explicitly to flush to disk before rename
	if err := targetF.Close(); err != nil {
		return res, resultcode.New(resultcode.FileWriteError, op, dstPath, fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Rename(tempName, dstPath); err != nil {
		return res, resultcode.New(resultcode.FileWriteError, op, dstPath, fmt.Errorf("failed to rename temp file to final path: %w", err))
	}
	return res, nil
}
