package main

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resf/apollo/datastore/postgres"
	"github.com/resf/apollo/matcher"
	"github.com/resf/apollo/updateinfo"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			pool, err := postgres.Connect(ctx, dsn(c), "apolloctl")
			if err != nil {
				return err
			}
			defer pool.Close()
			if _, err := postgres.InitPostgresStore(ctx, pool, true); err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newMatchCommand() *cobra.Command {
	var (
		productID int64
		grace     string
	)
	c := &cobra.Command{
		Use:   "match",
		Short: "Run one match pass for a product",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			pool, err := postgres.Connect(ctx, dsn(c), "apolloctl")
			if err != nil {
				return err
			}
			defer pool.Close()
			store, err := postgres.InitPostgresStore(ctx, pool, false)
			if err != nil {
				return err
			}

			var opts []matcher.Option
			if grace != "" {
				d, err := time.ParseDuration(grace)
				if err != nil {
					return fmt.Errorf("bad grace duration %q: %w", grace, err)
				}
				opts = append(opts, matcher.WithGrace(d))
			}
			m, err := matcher.New(store, opts...)
			if err != nil {
				return err
			}
			return m.MatchProduct(ctx, productID)
		},
	}
	c.Flags().Int64Var(&productID, "product-id", 0, "product to match")
	c.Flags().StringVar(&grace, "grace", "", "override the candidate grace window, e.g. 336h")
	c.MarkFlagRequired("product-id")
	return c
}

func newUpdateinfoCommand() *cobra.Command {
	var (
		slug  string
		major int
		minor int
		repo  string
		arch  string
	)
	c := &cobra.Command{
		Use:   "updateinfo",
		Short: "Render updateinfo.xml for one slice to stdout",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			pool, err := postgres.Connect(ctx, dsn(c), "apolloctl")
			if err != nil {
				return err
			}
			defer pool.Close()
			store, err := postgres.InitPostgresStore(ctx, pool, false)
			if err != nil {
				return err
			}

			req := updateinfo.Request{
				ProductSlug:  slug,
				MajorVersion: major,
				RepoName:     repo,
				Arch:         arch,
			}
			if c.Flags().Changed("minor") {
				req.MinorVersion = &minor
			}
			gen := updateinfo.Generator{Store: store}
			doc, err := gen.Generate(ctx, &req)
			if err != nil {
				return err
			}

			out := c.OutOrStdout()
			fmt.Fprint(out, xml.Header)
			enc := xml.NewEncoder(out)
			enc.Indent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	c.Flags().StringVar(&slug, "product-slug", "rocky-linux", "product slug")
	c.Flags().IntVar(&major, "major", 0, "major version")
	c.Flags().IntVar(&minor, "minor", 0, "minor version (optional)")
	c.Flags().StringVar(&repo, "repo", "", "repository name, e.g. BaseOS")
	c.Flags().StringVar(&arch, "arch", "", "architecture, e.g. x86_64")
	c.MarkFlagRequired("major")
	c.MarkFlagRequired("repo")
	c.MarkFlagRequired("arch")
	return c
}
