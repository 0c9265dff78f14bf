package command

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	switch {
	case apperrors.Is(err, apperrors.ErrUnsupported):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: history collections are append-only. Use --collection favorites")
	case apperrors.Is(err, apperrors.ErrMainAssetUpload):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the record was not saved. Retry, or use --offline to queue it")
	}
	return err
}
