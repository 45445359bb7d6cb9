package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/s3store"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/swiftstore"
)

var (
	listLimit      int
	listStartsWith string
	listDir        bool
	listCondition  string

	useManifest bool
	recursive   bool

	postOpts swiftstore.PostOptions

	restoreTier string
	restoreDays int64

	tempURLLifetime time.Duration
	tempURLMethod   string
	tempURLFilename string
)

func parseCondition(expr string) (*condition.Condition, error) {
	if expr == "" {
		return nil, nil
	}
	c, err := condition.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var listCmd = &cobra.Command{
	Use:   "list PATH",
	Short: "List files below a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		cond, err := parseCondition(listCondition)
		if err != nil {
			return err
		}
		paths, err := session.Store(p).List(cmd.Context(), p, backend.ListOptions{
			StartsWith: listStartsWith,
			Limit:      listLimit,
			Condition:   cond,
			ListAsDir:   listDir,
			UseManifest: useManifest,
		})
		if err != nil {
			return err
		}
		printPaths(paths)
		return nil
	},
}

var globCmd = &cobra.Command{
	Use:   "glob PATH PATTERN",
	Short: "List files below a path matching a glob pattern",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		paths, err := session.Store(p).Glob(cmd.Context(), p, args[1], nil)
		if err != nil {
			return err
		}
		printPaths(paths)
		return nil
	},
}

var walkfilesCmd = &cobra.Command{
	Use:   "walkfiles PATH [PATTERN]",
	Short: "Walk every file below a path, optionally filtered by name",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		pattern := ""
		if len(args) == 2 {
			pattern = args[1]
		}
		paths, err := session.Store(p).Walkfiles(cmd.Context(), p, pattern)
		if err != nil {
			return err
		}
		printPaths(paths)
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Print the metadata of a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		info, err := session.Store(p).Stat(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Printf("path: %s\nsize: %d\nmodified: %s\ndir: %t\n", info.Path, info.Size, info.ModTime.Format(time.RFC3339), info.IsDir())
		if info.ETag != "" {
			fmt.Printf("etag: %s\n", info.ETag)
		}
		if info.ContentType != "" {
			fmt.Printf("content-type: %s\n", info.ContentType)
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Write the contents of a file to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		data, err := session.Store(p).ReadObject(cmd.Context(), p)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return errors.WithStack(err)
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists PATH",
	Short: "Exit non-zero when the path does not exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		ok, err := session.Store(p).Exists(cmd.Context(), p)
		if err != nil {
			return err
		}
		if !ok {
			return obserr.Newf(obserr.KindNotFound, "%s does not exist", p)
		}
		return nil
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy SRC DST",
	Short: "Copy a file, or a tree with -r, between local and object store paths",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := parsePath(args[0])
		if err != nil {
			return err
		}
		dst, err := parsePath(args[1])
		if err != nil {
			return err
		}
		if recursive {
			return session.Copytree(cmd.Context(), src, dst, backend.UploadOptions{UseManifest: useManifest})
		}
		return session.Copy(cmd.Context(), src, dst)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove PATH",
	Short: "Remove a file, or a tree with -r",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		if recursive {
			return session.Store(p).Rmtree(cmd.Context(), p)
		}
		return session.Store(p).Remove(cmd.Context(), p)
	},
}

var urlCmd = &cobra.Command{
	Use:   "url PATH",
	Short: "Print the HTTP URL of an object store path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		remote, ok := session.Remote(p)
		if !ok {
			return obserr.Validation("%s is not an object store path", p)
		}
		u, err := remote.ToURL(p)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

var tempURLCmd = &cobra.Command{
	Use:   "temp-url PATH",
	Short: "Print a signed temporary URL for a swift object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		store, ok := session.Store(p).(*swiftstore.Store)
		if !ok {
			return obserr.Validation("temporary URLs need a swift path: %s", p)
		}
		u, err := store.TempURL(cmd.Context(), p, swiftstore.TempURLOptions{
			Lifetime: tempURLLifetime,
			Method:   tempURLMethod,
			Filename: tempURLFilename,
		})
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore PATH",
	Short: "Restore an s3 object from cold storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		store, ok := session.Store(p).(*s3store.Store)
		if !ok {
			return obserr.Validation("restore needs an s3 path: %s", p)
		}
		return store.Restore(cmd.Context(), p, restoreTier, restoreDays)
	},
}

func swiftPath(arg, op string) (*swiftstore.Store, storpath.Path, error) {
	p, err := parsePath(arg)
	if err != nil {
		return nil, nil, err
	}
	store, ok := session.Store(p).(*swiftstore.Store)
	if !ok {
		return nil, nil, obserr.Validation("%s needs a swift path: %s", op, p)
	}
	return store, p, nil
}

var postCmd = &cobra.Command{
	Use:   "post PATH",
	Short: "Update metadata of a swift object, container or account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, p, err := swiftPath(args[0], "post")
		if err != nil {
			return err
		}
		return store.Post(cmd.Context(), p, postOpts)
	},
}

var downloadObjectsCmd = &cobra.Command{
	Use:   "download-objects PATH DEST OBJECT...",
	Short: "Download the named swift objects below PATH into DEST",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, p, err := swiftPath(args[0], "download-objects")
		if err != nil {
			return err
		}
		got, err := store.DownloadObjects(cmd.Context(), p, args[1], args[2:])
		if err != nil {
			return err
		}
		for _, obj := range args[2:] {
			fmt.Printf("%s\t%s\n", obj, got[obj])
		}
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "stop after this many results")
	listCmd.Flags().StringVar(&listStartsWith, "starts-with", "", "only names below PATH starting with this")
	listCmd.Flags().BoolVarP(&listDir, "dir", "d", false, "list one level only")
	listCmd.Flags().StringVar(&listCondition, "condition", "", `fail unless the result count matches, e.g. ">=1"`)

	listCmd.Flags().BoolVar(&useManifest, "manifest", false, "wait until every object in the data manifest is listed")

	copyCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "copy a directory tree")
	copyCmd.Flags().BoolVar(&useManifest, "manifest", false, "write or check a data manifest when copying a tree")
	removeCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove a directory tree")

	restoreCmd.Flags().StringVar(&restoreTier, "tier", s3store.TierStandard, "retrieval tier: Standard, Bulk or Expedited")
	restoreCmd.Flags().Int64Var(&restoreDays, "days", 1, "days to keep the restored copy")

	tempURLCmd.Flags().DurationVar(&tempURLLifetime, "lifetime", 0, "how long the URL stays valid")
	tempURLCmd.Flags().StringVar(&tempURLMethod, "method", "", "HTTP method the URL allows")
	tempURLCmd.Flags().StringVar(&tempURLFilename, "filename", "", "file name browsers save the download as")

	postCmd.Flags().StringToStringVar(&postOpts.Meta, "meta", nil, "metadata to set, key=value")
	postCmd.Flags().StringToStringVar(&postOpts.Headers, "header", nil, "raw header to send, name=value")
	postCmd.Flags().StringVar(&postOpts.ReadACL, "read-acl", "", "container read ACL")
	postCmd.Flags().StringVar(&postOpts.WriteACL, "write-acl", "", "container write ACL")
	postCmd.Flags().StringVar(&postOpts.SyncTo, "sync-to", "", "container to sync to")
	postCmd.Flags().StringVar(&postOpts.SyncKey, "sync-key", "", "container sync key")

	rootCmd.AddCommand(listCmd, globCmd, walkfilesCmd, statCmd, catCmd, existsCmd, copyCmd, removeCmd, urlCmd, tempURLCmd, restoreCmd,
		postCmd, downloadObjectsCmd)
}
