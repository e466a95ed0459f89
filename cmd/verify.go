package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/metafile"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/verify"
)

// RunVerify handles the logic for the verify command. Every stored file is
// decoded and its BLAKE3 digest compared with the index. With -source the
// decoded content is also compared byte for byte with the original file.
func RunVerify(ctx context.Context, flagMap map[string]any) error {
	base, err := requireFlag(flagparse.Verify, flagMap, "base")
	if err != nil {
		return err
	}
	applyFlagLogSettings(flagMap)
	original, _ := flagMap["source"].(string)

	content, err := readIndex(base)
	if err != nil {
		return err
	}
	content.SortEntries()

	startTime := time.Now()
	var first resultcode.First
	var verified, failed int
	for _, entry := range content.Entries {
		if ctx.Err() != nil {
			first.Record(resultcode.New(resultcode.Interrupted, "verify", base, ctx.Err()))
			break
		}
		if err := verifyEntry(base, original, entry); err != nil {
			plog.Warn("CORRUPT", "path", entry.Path, "error", err)
			first.Record(err)
			failed++
			continue
		}
		plog.Notice("OK", "path", entry.Path)
		verified++
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info("Verify summary", "verified", verified, "failed", failed, "duration", duration)
	if err := first.Err(); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" verify finished successfully.", "duration", duration)
	return nil
}

// verifyEntry checks one index entry against its stored file and, when
// original is set, against the original source tree.
func verifyEntry(base, original string, entry metafile.Entry) error {
	storedPath := filepath.Join(base, filepath.FromSlash(entry.Path))
	if entry.Checksum != "" {
		sum, err := verify.ChecksumDecoded(storedPath, entry.Kind)
		if err != nil {
			if resultcode.CodeOf(err) == resultcode.GeneralError {
				return resultcode.New(resultcode.CompressionError, "verify", entry.Path, err)
			}
			return err
		}
		if sum != entry.Checksum {
			return resultcode.Newf(resultcode.ChecksumError, "verify", entry.Path, "digest %s does not match index %s", sum, entry.Checksum)
		}
	}
	if original != "" {
		if _, err := verify.Verify(filepath.Join(original, filepath.FromSlash(entry.Source)), storedPath, entry.Kind); err != nil {
			return err
		}
	}
	return nil
}
