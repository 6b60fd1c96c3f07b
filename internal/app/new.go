package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cxlinux/cx/internal/output"
	"github.com/cxlinux/cx/internal/scaffold"
	"github.com/cxlinux/cx/internal/templates"
)

var (
	newFlagName  string
	newFlagDir   string
	newFlagForce bool
)

var newCmd = &cobra.Command{
	Use:   "new [template]",
	Short: "Create a project from a template",
	Long: `Create a new project directory from a template.

The template's placeholder (__NAME__ unless the registry says otherwise) is
replaced by the project name in file and directory names and in the contents
of text files. Binary files are copied unchanged.

The project is written to a staging directory and moved into place only when
every file has been copied, so a failed or interrupted run leaves nothing
behind.

Arguments:
  template  Template id, optionally with a version constraint (id@^1.2).
            Defaults to "default".`,
	Example: `  cx new --name demo                 # ./demo from the default template
  cx new rust -n api -d ~/src/api
  cx new rust@^2 --dir ./svc         # project name "svc"
  cx new --name demo --force         # replace an existing ./demo`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNew,
}

func init() {
	newCmd.Flags().StringVarP(&newFlagName, "name", "n", "", "project name (default: base name of --dir)")
	newCmd.Flags().StringVarP(&newFlagDir, "dir", "d", "", "target directory (default: ./<name>)")
	newCmd.Flags().BoolVar(&newFlagForce, "force", false, "replace a non-empty target directory")
}

// projectTarget fills in whichever of name and dir was not given.
func projectTarget(name, dir string) (string, string, error) {
	switch {
	case name == "" && dir == "":
		return "", "", errors.New("project name required: use --name or --dir")
	case name == "":
		name = filepath.Base(filepath.Clean(dir))
	case dir == "":
		dir = filepath.Join(".", name)
	}
	return name, dir, nil
}

func runNew(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	templateID := templates.DefaultID
	if len(args) == 1 {
		templateID = args[0]
	}

	name, dir, err := projectTarget(newFlagName, newFlagDir)
	if err != nil {
		return err
	}

	registry, err := templates.Load(e.cfg.RegistryPath)
	if err != nil {
		return err
	}
	s := scaffold.New(registry, templates.NewFetcher(e.logger), e.logger)

	bar := output.NewProgress(0, "Copying template files")
	bar.SetWriter(cmd.ErrOrStderr())
	res, err := s.Scaffold(cmd.Context(), templateID, name, dir, scaffold.Options{
		Overwrite: newFlagForce,
		Progress:  bar.Report,
	})
	if err != nil {
		return err
	}
	bar.Finish()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s from %s in %s (%s)\n", name, res.Template.Ref(), res.Target, plural(res.Files, "file"))
	if res.Replaced {
		fmt.Fprintln(out, "The previous contents of the directory were replaced.")
	}
	return nil
}
