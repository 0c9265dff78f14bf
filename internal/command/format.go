package command

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/kimhsiao/studiovault/internal/assets"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[len(id)-shortIDLen:]
}

func statusMark(s models.SyncStatus) string {
	switch s {
	case models.SyncStatusSynced:
		return "synced"
	case models.SyncStatusFailed:
		return "FAILED"
	default:
		return "pending"
	}
}

// writeRecordLine prints one record as a single list row.
func writeRecordLine(w io.Writer, rec *models.Record) {
	line := fmt.Sprintf("%s  %-7s  %-14s  %s", shortID(rec.ID), statusMark(rec.SyncStatus),
		humanize.Time(rec.CreatedAtTime()), rec.DisplayText)
	if len(rec.Tags) > 0 {
		line += "  [" + strings.Join(rec.Tags, ", ") + "]"
	}
	if rec.Folder != "" {
		line += "  /" + rec.Folder
	}
	fmt.Fprintln(w, line)
}

func writeRecordList(w io.Writer, records []*models.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records")
		return
	}
	for _, rec := range records {
		writeRecordLine(w, rec)
	}
}

// writeRecordDetail prints every field of a record.
func writeRecordDetail(w io.Writer, rec *models.Record) {
	fmt.Fprintf(w, "ID:        %s\n", rec.ID)
	fmt.Fprintf(w, "Text:      %s\n", rec.DisplayText)
	fmt.Fprintf(w, "Created:   %s (%s)\n", rec.CreatedAtTime().Format("2006-01-02 15:04:05"), humanize.Time(rec.CreatedAtTime()))
	if rec.UpdatedAt != rec.CreatedAt {
		fmt.Fprintf(w, "Updated:   %s\n", humanize.Time(rec.UpdatedAtTime()))
	}
	fmt.Fprintf(w, "Status:    %s\n", statusMark(rec.SyncStatus))
	if len(rec.Tags) > 0 {
		fmt.Fprintf(w, "Tags:      %s\n", strings.Join(rec.Tags, ", "))
	}
	if rec.Folder != "" {
		fmt.Fprintf(w, "Folder:    %s\n", rec.Folder)
	}
	if rec.Seed != nil {
		fmt.Fprintf(w, "Seed:      %d\n", *rec.Seed)
	}
	if len(rec.GenerationParams) > 0 {
		fmt.Fprintf(w, "Params:    %s\n", rec.GenerationParams)
	}
	fmt.Fprintf(w, "Variants:  %d\n", rec.VariantCount)
	for _, f := range rec.UploadFailures {
		fmt.Fprintf(w, "Failed:    %s (%s)\n", f.Asset, f.Error)
	}
}

// readImage loads an image file as a data URL. The content type is sniffed.
func readImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "failed to read image", err)
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", apperrors.Newf(apperrors.ErrInvalid, "%s is %s, not an image", path, mtype.String())
	}
	return assets.EncodeDataURL(data, mtype.String()), nil
}
