package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/studiovault/internal/assets"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/uuid"
)

// NewAddCmd creates the add command.
func NewAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a record with its images",
		Long:  "Add a record to the collection. Offline, the record is kept locally and uploaded on the next sync.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}

			imagePath, _ := cmd.Flags().GetString("image")
			thumbPath, _ := cmd.Flags().GetString("thumbnail")
			variantPaths, _ := cmd.Flags().GetStringSlice("variant")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			folder, _ := cmd.Flags().GetString("folder")
			params, _ := cmd.Flags().GetString("params")

			var bundle models.AssetBundle
			if bundle.Main, err = readImage(imagePath); err != nil {
				return writeCommandError(cmd, err)
			}
			if thumbPath != "" {
				if bundle.Thumbnail, err = readImage(thumbPath); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			for _, p := range variantPaths {
				v, err := readImage(p)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				bundle.Variants = append(bundle.Variants, v)
			}

			in := models.RecordInput{
				DisplayText:  args[0],
				VariantCount: len(bundle.Variants),
				Tags:         tags,
				Folder:       folder,
			}
			if params != "" {
				if !json.Valid([]byte(params)) {
					return writeCommandError(cmd, apperrors.New(apperrors.ErrInvalid, "--params must be JSON"))
				}
				in.GenerationParams = json.RawMessage(params)
			}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetInt64("seed")
				in.Seed = &seed
			}

			rec, err := c.Add(cmd.Context(), in, bundle)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s (%s)\n", rec.ID, c.ID(), statusMark(rec.SyncStatus))
			for _, f := range rec.UploadFailures {
				fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s was not uploaded: %s\n", f.Asset, f.Error)
			}
			return nil
		},
	}

	cmd.Flags().String("image", "", "main image file (required)")
	cmd.Flags().String("thumbnail", "", "thumbnail image file")
	cmd.Flags().StringSlice("variant", nil, "variant image file (repeatable)")
	cmd.Flags().StringSlice("tag", nil, "tag (repeatable, favorites only)")
	cmd.Flags().String("folder", "", "folder (favorites only)")
	cmd.Flags().String("params", "", "generation parameters as JSON")
	cmd.Flags().Int64("seed", 0, "generation seed")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List records newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}

			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			tag, _ := cmd.Flags().GetString("tag")
			folder, _ := cmd.Flags().GetString("folder")

			var records []*models.Record
			switch {
			case tag != "":
				records, err = c.FilterByTag(cmd.Context(), tag)
			case folder != "":
				records, err = c.FilterByFolder(cmd.Context(), folder)
			default:
				records, err = c.GetAll(cmd.Context(), limit, offset)
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, records)
			}
			writeRecordList(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "maximum records (0 for all)")
	cmd.Flags().Int("offset", 0, "records to skip")
	cmd.Flags().String("tag", "", "only records with this tag")
	cmd.Flags().String("folder", "", "only records in this folder")
	return cmd
}

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search display text, tags and folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			records, err := c.Search(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, records)
			}
			writeRecordList(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := uuid.ValidateRecordID(args[0]); err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			rec, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, rec)
			}
			writeRecordDetail(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

// NewImagesCmd creates the images command.
func NewImagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images <id>",
		Short: "Write a record's images to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := uuid.ValidateRecordID(args[0]); err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			bundle, err := c.GetImages(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if bundle == nil {
				return writeCommandError(cmd, apperrors.Newf(apperrors.ErrNotFound, "images of %s are not available", args[0]))
			}

			out, _ := cmd.Flags().GetString("out")
			if err := os.MkdirAll(out, 0755); err != nil {
				return writeCommandError(cmd, err)
			}

			named := []struct{ name, dataURL string }{{"main", bundle.Main}, {"thumbnail", bundle.Thumbnail}}
			for i, v := range bundle.Variants {
				named = append(named, struct{ name, dataURL string }{fmt.Sprintf("variant-%d", i), v})
			}

			written := map[string]string{}
			for _, n := range named {
				if n.dataURL == "" {
					continue
				}
				blob, err := assets.DecodeDataURL(n.dataURL)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				path := filepath.Join(out, args[0]+"-"+n.name+blob.Extension())
				if err := os.WriteFile(path, blob.Data, 0644); err != nil {
					return writeCommandError(cmd, err)
				}
				written[n.name] = path
				if !ctx.JSONMode {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %8s  %s\n", n.name, humanize.Bytes(uint64(len(blob.Data))), path)
				}
			}
			if ctx.JSONMode {
				return writeJSON(cmd, written)
			}
			return nil
		},
	}
	cmd.Flags().String("out", ".", "output directory")
	return cmd
}

// NewRmCmd creates the rm command.
func NewRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a record and its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := uuid.ValidateRecordID(args[0]); err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := c.Remove(cmd.Context(), args[0]); err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, map[string]interface{}{"removed": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

// NewTagCmd creates the tag command.
func NewTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag <id> [tag...]",
		Short: "Replace a favorite's tags, folder or text",
		Long:  "Replace the tags of a favorite with the given list. --folder and --text update those fields too.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.RecordPatch
			if len(args) > 1 || cmd.Flags().Changed("clear-tags") {
				tags := append([]string{}, args[1:]...)
				patch.Tags = &tags
			}
			if cmd.Flags().Changed("folder") {
				folder, _ := cmd.Flags().GetString("folder")
				patch.Folder = &folder
			}
			if cmd.Flags().Changed("text") {
				text, _ := cmd.Flags().GetString("text")
				patch.DisplayText = &text
			}
			if err := uuid.ValidateRecordID(args[0]); err != nil {
				return writeCommandError(cmd, err)
			}
			if patch.IsEmpty() {
				return writeCommandError(cmd, apperrors.New(apperrors.ErrInvalid, "nothing to update"))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			rec, err := c.Update(cmd.Context(), args[0], patch)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, rec)
			}
			writeRecordLine(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().String("folder", "", "set the folder (empty to clear)")
	cmd.Flags().String("text", "", "set the display text")
	cmd.Flags().Bool("clear-tags", false, "remove every tag")
	return cmd
}

// NewClearCmd creates the clear command.
func NewClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record of the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return writeCommandError(cmd, apperrors.New(apperrors.ErrInvalid, "clear removes every record; pass --yes to confirm"))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			c, err := ctx.Collection()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := c.Clear(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, map[string]interface{}{"cleared": c.ID()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", c.ID())
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm")
	return cmd
}
