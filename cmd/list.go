package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulschiretz/pgl-filebackup/pkg/flagparse"
	"github.com/paulschiretz/pgl-filebackup/pkg/metafile"
	"github.com/paulschiretz/pgl-filebackup/pkg/plog"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// listOutput receives the raw index in -json mode.
var listOutput io.Writer = os.Stdout

// RunList handles the logic for the list command.
func RunList(ctx context.Context, flagMap map[string]any) error {
	base, err := requireFlag(flagparse.List, flagMap, "base")
	if err != nil {
		return err
	}
	applyFlagLogSettings(flagMap)

	content, err := readIndex(base)
	if err != nil {
		return err
	}
	content.SortEntries()

	if asJSON, _ := flagMap["json"].(bool); asJSON {
		data, err := json.MarshalIndent(content, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal index: %w", err)
		}
		_, err = fmt.Fprintln(listOutput, string(data))
		return err
	}

	plog.Info("Backup",
		"uuid", content.UUID,
		"time", content.TimestampUTC.Local().Format("2006-01-02 15:04:05"),
		"mode", content.Mode,
		"compression", content.Compression,
		"result", content.Result,
		"source", content.Source,
	)
	var total, stored int64
	for _, e := range content.Entries {
		if ctx.Err() != nil {
			return resultcode.New(resultcode.Interrupted, "list", base, ctx.Err())
		}
		plog.Info("FILE",
			"path", e.Path,
			"size", util.ByteCountIEC(e.Size),
			"stored", util.ByteCountIEC(e.StoredSize),
			"modified", e.ModTime.Local().Format("2006-01-02 15:04:05"),
		)
		total += e.Size
		stored += e.StoredSize
	}
	plog.Info("Listed backup", "files", len(content.Entries), "size", util.ByteCountIEC(total), "stored", util.ByteCountIEC(stored))
	return nil
}

// readIndex reads the backup index in base. A missing index is FileNotFound.
func readIndex(base string) (metafile.Content, error) {
	base, err := util.ExpandPath(base)
	if err != nil {
		return metafile.Content{}, resultcode.New(resultcode.InvalidParams, "read index", base, err)
	}
	content, err := metafile.Read(base)
	if err != nil {
		if os.IsNotExist(err) {
			return metafile.Content{}, resultcode.Newf(resultcode.FileNotFound, "read index", base, "no backup index found. Was the backup run with -write-index=false?")
		}
		return metafile.Content{}, resultcode.New(resultcode.FileReadError, "read index", base, err)
	}
	return content, nil
}

// applyFlagLogSettings applies the logging flags of commands that run without a config.
func applyFlagLogSettings(flagMap map[string]any) {
	if name, ok := flagMap["log-level"].(string); ok {
		if level, err := plog.LevelFromString(name); err == nil {
			plog.SetLevel(level)
		}
	}
	if quiet, ok := flagMap["quiet"].(bool); ok {
		plog.SetQuiet(quiet)
	}
}
