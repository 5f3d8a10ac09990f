// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"icu-benchmarks/internal/ginconfig"
	"icu-benchmarks/internal/issue"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var (
	configsDir string

	configsCmd = &cobra.Command{
		Use:   "configs",
		Short: "Inspect the experiment config hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List available gin configs",
		RunE:  runConfigsList,
	}

	configsShowCmd = &cobra.Command{
		Use:     "show <config>",
		Short:   "Show a gin config with its effective bindings",
		Example: `  icubench configs show configs/ricu/Classification/Transformer.gin`,
		Args:    cobra.ExactArgs(1),
		RunE:    runConfigsShow,
	}
)

func init() {
	configsCmd.PersistentFlags().StringVar(&configsDir, "dir", "configs", "config hierarchy root")
	configsCmd.AddCommand(configsListCmd)
	configsCmd.AddCommand(configsShowCmd)
}

func runConfigsList(cmd *cobra.Command, args []string) error {
	var paths []string
	err := filepath.WalkDir(configsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".gin") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("list configs").
			WithResource(configsDir).
			WithSuggestion("run from the repository root or pass --dir").
			Wrap(err).
			BuildError()
	}

	fmt.Println(TitleStyle.Render("Experiment configs") + SubtitleStyle.Render(" ("+configsDir+")"))
	for _, path := range paths {
		rel, relErr := filepath.Rel(configsDir, path)
		if relErr != nil {
			rel = path
		}
		fmt.Println("  " + PathStyle.Render(rel))
	}
	if len(paths) == 0 {
		fmt.Println(SubtitleStyle.Render("  (none found)"))
	}
	return nil
}

func runConfigsShow(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("read config").
			WithResource(path).
			WithSuggestion("list available configs with 'icubench configs list'").
			Wrap(err).
			BuildError()
	}

	gin, err := ginconfig.Load(path)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", path)
	b.WriteString("## Source\n\n```\n")
	b.Write(raw)
	b.WriteString("\n```\n\n## Effective bindings (includes resolved)\n\n```\n")
	b.WriteString(gin.Operative())
	b.WriteString("```\n")

	return renderMarkdown(b.String())
}

// renderMarkdown renders markdown to the terminal through glamour.
func renderMarkdown(content string) error {
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return err
	}
	out, err := renderer.Render(content)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
