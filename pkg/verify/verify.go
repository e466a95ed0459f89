// Package verify checks that a produced backup or restore artifact matches
// its source.
package verify

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-filebackup/pkg/compression"
	"github.com/paulschiretz/pgl-filebackup/pkg/pool"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/zeebo/blake3"
)

var bufferPool = pool.NewFixedBuffer(compression.BufferSize)

// Verify compares sourcePath with producedPath. When kind is not None the
// produced file is first decoded to a temporary file, which is always removed.
// A mismatch or any I/O failure returns false with a ChecksumError.
func Verify(sourcePath, producedPath string, kind compression.Kind) (bool, error) {
	plainPath := producedPath
	if kind != compression.None {
		tmp, err := os.CreateTemp("", "pgl-filebackup-verify-*")
		if err != nil {
			return false, resultcode.New(resultcode.ChecksumError, "verify", producedPath, err)
		}
		tmpName := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpName)

		if _, err := compression.DecodeFile(producedPath, tmpName, kind); err != nil {
			return false, resultcode.New(resultcode.ChecksumError, "verify", producedPath, err)
		}
		plainPath = tmpName
	}

	same, err := sameContent(sourcePath, plainPath)
	if err != nil {
		return false, resultcode.New(resultcode.ChecksumError, "verify", producedPath, err)
	}
	if !same {
		return false, resultcode.Newf(resultcode.ChecksumError, "verify", producedPath, "content differs from %s", sourcePath)
	}
	return true, nil
}

// sameContent compares sizes first, then the files block by block.
func sameContent(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA, bufB := bufferPool.Get(), bufferPool.Get()
	defer bufferPool.Put(bufA)
	defer bufferPool.Put(bufB)

	for {
		na, errA := io.ReadFull(fa, *bufA)
		nb, errB := io.ReadFull(fb, *bufB)
		if na != nb || !bytes.Equal((*bufA)[:na], (*bufB)[:nb]) {
			return false, nil
		}
		doneA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}

// Checksum returns the hex BLAKE3 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", resultcode.New(resultcode.FileOpenError, "checksum", path, err)
	}
	defer f.Close()
	return checksumReader(f, path)
}

// ChecksumDecoded returns the BLAKE3 digest of the decoded content of a stored file.
func ChecksumDecoded(path string, kind compression.Kind) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", resultcode.New(resultcode.FileOpenError, "checksum", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, _, err := compression.Decode(h, f, kind); err != nil {
		return "", fmt.Errorf("checksum %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func checksumReader(r io.Reader, path string) (string, error) {
	h := blake3.New()
	bufPtr := bufferPool.Get()
	defer bufferPool.Put(bufPtr)
	if _, err := io.CopyBuffer(h, r, *bufPtr); err != nil {
		return "", resultcode.New(resultcode.FileReadError, "checksum", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
