package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/forensicdev/warden/internal/diagram"
	"github.com/forensicdev/warden/internal/templates"
	"github.com/forensicdev/warden/internal/validation"
	"github.com/forensicdev/warden/pkg/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	templatesRender string
	templatesOut    string
)

var templatesCmd = &cobra.Command{
	Use:   "templates [workflow-type]",
	Short: "List registered workflow templates",
	Long: `Lists the built-in workflow templates plus any loaded from
templates_dir. Naming a workflow type prints its full definition as
YAML, or as a flow diagram with --render.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTemplates,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.Flags().StringVar(&templatesRender, "render", "", "render the definition as a diagram: ascii, mermaid, or png")
	templatesCmd.Flags().StringVar(&templatesOut, "out", "", "write the rendered diagram to a file (required for png)")
}

func runTemplates(cmd *cobra.Command, args []string) error {
	s := loadSettings()

	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return err
	}
	registry := templates.NewRegistry(validator.ValidateDefinition)
	if s.TemplatesDir != "" {
		if _, err := registry.LoadDir(s.TemplatesDir); err != nil {
			return err
		}
	}

	if len(args) == 1 {
		def, err := registry.Get(args[0])
		if err != nil {
			return err
		}
		if templatesRender != "" {
			return renderTemplate(def, templatesRender, templatesOut)
		}
		if jsonOutput() {
			out, err := json.MarshalIndent(def, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		out, err := yaml.Marshal(def)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}

	if templatesRender != "" {
		return errors.New("--render needs a workflow type")
	}

	infos := registry.List()
	if jsonOutput() {
		out, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Type", "Steps", "Description")
	for _, info := range infos {
		table.Append(info.Type, strconv.Itoa(info.Steps), info.Description)
	}
	table.Render()
	fmt.Printf("\nTotal templates: %d\n", len(infos))
	return nil
}

// renderTemplate writes the definition's flow diagram in the requested
// format, to stdout or to --out.
func renderTemplate(def schema.WorkflowDefinition, format, outPath string) error {
	model, err := diagram.Build(&def)
	if err != nil {
		return err
	}

	switch format {
	case "ascii":
		return writeDiagram(outPath, []byte(diagram.RenderASCII(model)))
	case "mermaid":
		return writeDiagram(outPath, []byte(diagram.RenderMermaid(model)))
	case "png":
		if outPath == "" {
			return errors.New("png rendering needs --out")
		}
		png, err := diagram.RenderImage(model)
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, png, 0o644); err != nil {
			return err
		}
		fmt.Printf("Diagram written to %s (%d bytes)\n", outPath, len(png))
		return nil
	default:
		return fmt.Errorf("unknown render format %q (ascii, mermaid, png)", format)
	}
}

func writeDiagram(outPath string, data []byte) error {
	if outPath == "" {
		fmt.Print(string(data))
		return nil
	}
	return os.WriteFile(outPath, data, 0o644)
}
