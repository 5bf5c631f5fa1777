package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/filer/pkg/filer"
	"github.com/mwantia/filer/pkg/metadata"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewVfsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vfs",
		Short: "Manage virtual filesystem",
		Long:  "Manage the virtual filesystem (VFS) and list, create or update entries.",
	}

	cmd.AddCommand(NewVfsListCommand())
	cmd.AddCommand(NewVfsTestCommand())
	cmd.AddCommand(NewVfsTouchCommand())
	cmd.AddCommand(NewVfsPutCommand())
	cmd.AddCommand(NewVfsCatCommand())
	cmd.AddCommand(NewVfsCopyCommand())
	cmd.AddCommand(NewVfsMoveCommand())
	cmd.AddCommand(NewVfsRemoveCommand())
	cmd.AddCommand(NewVfsStatCommand())
	cmd.AddCommand(NewVfsChmodCommand())
	cmd.AddCommand(NewVfsUrlCommand())
	cmd.AddCommand(NewVfsCreateDirectoryCommand())

	return cmd
}

func NewVfsListCommand() *cobra.Command {
	var humanReadable bool
	var longFormat bool
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List virtual filesystem entries",
		Long:  "List all entries existing within the defined virtual filesystem path.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}

			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				contents, err := f.ListContents(ctx, prefix, recursive)
				if err != nil {
					return err
				}

				return printContents(cmd.OutOrStdout(), contents, longFormat, humanReadable)
			})
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")
	cmd.Flags().BoolVarP(&longFormat, "long", "l", false, "Display long format")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Include entries of nested prefixes")

	return cmd
}

func printContents(w io.Writer, contents []metadata.Attributes, long, human bool) error {
	if !long {
		for _, attrs := range contents {
			fmt.Fprintln(w, attrs.Path)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, attrs := range contents {
		size := fmt.Sprintf("%d", attrs.Size)
		if human {
			size = humanize.Bytes(uint64(attrs.Size))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			attrs.Visibility, size, attrs.LastModified.Local().Format(time.DateTime), attrs.Mimetype, attrs.Path)
	}
	return tw.Flush()
}

func NewVfsTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <path>",
		Short: "Test virtual filesystem",
		Long:  "Tests if the defined path exists within the virtual filesystem. Legacy backends are probed without migrating the file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				exists, err := f.FileExists(ctx, args[0])
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("'%s' does not exist", args[0])
				}

				fmt.Fprintf(cmd.OutOrStdout(), "'%s' exists\n", args[0])
				return nil
			})
		},
	}

	return cmd
}

func NewVfsTouchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "touch <path>",
		Short: "Update virtual filesystem metadata",
		Long:  "Creates an empty entry if it doesn't already exist. Existing entries are left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				exists, err := f.FileExists(ctx, args[0])
				if err != nil || exists {
					return err
				}
				return f.Write(ctx, args[0], []byte{}, filer.Options{})
			})
		},
	}

	return cmd
}

func NewVfsPutCommand() *cobra.Command {
	var public bool

	cmd := &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Upload a local file",
		Long:  "Uploads a local file into the virtual filesystem, replacing any existing entry at the path.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				return f.WriteStream(ctx, args[1], file, filer.Options{Visibility: visibility(public)})
			})
		},
	}

	cmd.Flags().BoolVarP(&public, "public", "p", false, "Store the entry with public visibility")

	return cmd
}

func NewVfsCatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the contents of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				rc, err := f.ReadStream(ctx, args[0])
				if err != nil {
					return err
				}
				defer rc.Close()

				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			})
		},
	}

	return cmd
}

func NewVfsCopyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp <source> <destination>",
		Short: "Copy an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				return f.Copy(ctx, args[0], args[1], filer.Options{})
			})
		},
	}

	return cmd
}

func NewVfsMoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Rename an entry",
		Long:  "Renames an entry within the metadata index. The stored objects are not touched.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				return f.Move(ctx, args[0], args[1], filer.Options{})
			})
		},
	}

	return cmd
}

func NewVfsRemoveCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Removes virtual filesystem entry",
		Long:  "Removes the virtual filesystem entry defined in the path from every backend holding it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				err := f.Delete(ctx, args[0])
				if force && errors.Is(err, filer.ErrRecordNotFound) {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore entries that don't exist")

	return cmd
}

func NewVfsStatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the metadata of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				attrs, err := f.GetMetadata(ctx, args[0])
				if err != nil {
					return err
				}

				encoder := yaml.NewEncoder(cmd.OutOrStdout())
				defer encoder.Close()
				return encoder.Encode(attrs)
			})
		},
	}

	return cmd
}

func NewVfsChmodCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chmod <public|private> <path>",
		Short: "Change the visibility of an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := metadata.ParseVisibility(args[0])
			if err != nil {
				return err
			}

			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				return f.SetVisibility(ctx, args[1], v)
			})
		},
	}

	return cmd
}

func NewVfsUrlCommand() *cobra.Command {
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "url <path>",
		Short: "Create a temporary url for an entry",
		Long:  "Creates a temporary url using the primary backend of the entry. Only object storage backends support this.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				url, err := f.TemporaryURL(ctx, args[0], expires, filer.Options{})
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}

	cmd.Flags().DurationVarP(&expires, "expires", "e", time.Hour, "Lifetime of the url")

	return cmd
}

func NewVfsCreateDirectoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create virtual filesystem prefix",
		Long:  "Prefixes are virtual and exist implicitly, this command only exists for symmetry.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFiler(cmd.Context(), func(ctx context.Context, f *filer.Filer) error {
				return f.CreateDirectory(ctx, args[0])
			})
		},
	}

	return cmd
}

func visibility(public bool) metadata.Visibility {
	if public {
		return metadata.VisibilityPublic
	}
	return metadata.VisibilityPrivate
}
