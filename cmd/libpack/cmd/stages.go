package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/libpack/internal/service/pipeline"
)

//nolint:gochecknoglobals // Cobra commands.
var (
	// fetchCmd downloads and verifies every variant archive.
	fetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Download and verify the archives of the configured release.",
		Long: `Downloads every variant archive of the configured release version into the
cache directory and verifies its SHA-256 checksum. Archives already present with
the expected checksum are not downloaded again.`,
		Args: cobra.NoArgs,
		RunE: runStage(pipeline.StageFetch),
	}

	// extractCmd fetches and unpacks every variant archive.
	extractCmd = &cobra.Command{
		Use:   "extract",
		Short: "Fetch and extract the archives of the configured release.",
		Args:  cobra.NoArgs,
		RunE:  runStage(pipeline.StageExtract),
	}

	// packageCmd builds the bundle archives.
	packageCmd = &cobra.Command{
		Use:   "package",
		Short: "Assemble and write bundle archives.",
		Long: `Extracts the configured release, selects files per platform, assembles the
bundles declared by the plan and writes one reproducible archive per bundle into
the distribution directory, together with a checksum file and, when a signing
key is configured, a detached signature.`,
		Args: cobra.NoArgs,
		RunE: runStage(pipeline.StagePackage),
	}

	// publishCmd packages and pushes the bundles.
	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Package and publish bundles to the configured registry.",
		Long: `Verifies that the git working tree is clean, packages the release and pushes
every bundle to the configured registry. A failing bundle does not stop the
others; a report lists the outcome of each bundle.`,
		Args: cobra.NoArgs,
		RunE: runStage(pipeline.StagePublish),
	}
)
