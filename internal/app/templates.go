package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cxlinux/cx/internal/output"
	"github.com/cxlinux/cx/internal/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates [id]",
	Short: "List available project templates",
	Long: `List the templates 'cx new' can use: the built-in "default" template and
those declared in the registry file (templates.registry, by default
$XDG_CONFIG_HOME/cx/templates.yaml).

With an id, every registered version of that template is listed.`,
	Example: `  cx templates
  cx templates rust`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTemplates,
}

func runTemplates(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	registry, err := templates.Load(e.cfg.RegistryPath)
	if err != nil {
		return err
	}

	list := registry.List()
	if len(args) == 1 {
		list = registry.Versions(args[0])
		if len(list) == 0 {
			return fmt.Errorf("%w: %s\n\nRun 'cx templates' to see available templates", templates.ErrUnknown, args[0])
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderTemplateTable(list))
	return nil
}
