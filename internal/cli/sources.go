package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/battery/internal/source"
)

// SourceInfo is one row of the sources listing.
type SourceInfo struct {
	ID          string  `json:"id"`
	Length      int     `json:"length"`
	Probability float64 `json:"probability"`
	Device      string  `json:"device,omitempty"`
}

// SourcesResult is the output of the sources command.
type SourcesResult struct {
	Sources []SourceInfo `json:"sources"`
}

// RenderText prints the sources as an aligned table.
func (r SourcesResult) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tBYTES\tPROBABILITY\tDEVICE")
	for _, s := range r.Sources {
		device := s.Device
		if device == "" {
			device = "(simulated)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\n", s.ID, s.Length, s.Probability, device)
	}
	return tw.Flush()
}

// NewSourcesCommand creates the sources command.
func NewSourcesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the noise source catalog",
		Long: `List every noise source in sampling order with its read length, its
inclusion probability under the probabilistic policy, and its backing device.

Probabilities reflect overrides from the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSources(opts, cmd)
		},
	}
}

func runSources(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := loadConfig(opts, f)
	if err != nil {
		return err
	}
	overrides := cfg.SourceProbabilities()

	result := SourcesResult{Sources: make([]SourceInfo, 0, len(source.Catalog()))}
	for _, s := range source.Catalog() {
		p := s.Probability
		if v, ok := overrides[s.ID]; ok {
			p = v
		}
		result.Sources = append(result.Sources, SourceInfo{
			ID:          string(s.ID),
			Length:      s.Length,
			Probability: p,
			Device:      s.Device,
		})
	}

	return f.Success(result)
}
