package cli

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/battery/internal/audit"
	"github.com/roach88/battery/internal/keyderive"
)

// Key encodings accepted by --encoding.
const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

// DeriveOptions holds flags for the derive command.
type DeriveOptions struct {
	*RootOptions
	Rounds    int
	Method    string
	TopN      int
	KeyLength int
	Encoding  string
}

// DeriveResult is the output of the derive command.
type DeriveResult struct {
	Key      string           `json:"key"`
	Encoding string           `json:"encoding"`
	Record   keyderive.Record `json:"record"`
}

// RenderText prints the key followed by its provenance.
func (r DeriveResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "key (%s): %s\n", r.Encoding, r.Key)
	fmt.Fprintf(w, "record:    %s\n", r.Record.ID)
	fmt.Fprintf(w, "method:    %s (%d bits)\n", r.Record.Method, r.Record.KeyBits)
	fmt.Fprintf(w, "derived:   %s\n", r.Record.DerivedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "blocks:    %d\n", len(r.Record.SourceBlocks))
	for i, b := range r.Record.SourceBlocks {
		_, err := fmt.Fprintf(w, "  %2d  %s  %s  %s\n", i+1, audit.Score(b.Score), b.SampleID, b.SourceLabel)
		if err != nil {
			return err
		}
	}
	return nil
}

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeriveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Sample noise and derive a key",
		Long: `Run a number of sampling rounds to fill the elite store, then derive a
key from the highest-scoring samples.

The key is printed together with its provenance record. With a journal
configured, the rounds and the record are persisted; key bytes never are.

Example:
  battery derive --rounds 16 --method sha3_512 --key-length 64
  battery derive --encoding base64 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerive(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Rounds, "rounds", 8, "sampling rounds to run before deriving")
	cmd.Flags().StringVar(&opts.Method, "method", "", "derivation method (shake256|sha3_512|blake3); default from config")
	cmd.Flags().IntVar(&opts.TopN, "top-n", 0, "number of top samples to use; default from config")
	cmd.Flags().IntVar(&opts.KeyLength, "key-length", 0, "key length in bytes; default from config")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", EncodingHex, "key encoding (hex|base64)")

	return cmd
}

func runDerive(opts *DeriveOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	encode, err := keyEncoder(opts.Encoding)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid encoding", err)
	}
	if opts.Rounds < 0 {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid rounds", fmt.Errorf("--rounds must be >= 0, got %d", opts.Rounds))
	}

	rt, err := newSession(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer rt.close()

	params, err := opts.params(cmd, rt)
	if err != nil {
		return deriveFailure(f, err)
	}

	ctx := commandContext(cmd)
	if err := rt.fill(ctx, opts.Rounds, f); err != nil {
		return err
	}

	key, rec, err := rt.derive(ctx, params, f)
	if err != nil {
		return err
	}

	return f.Success(DeriveResult{
		Key:      encode(key),
		Encoding: opts.Encoding,
		Record:   rec,
	})
}

// params starts from the configured parameters and applies the flags that
// were set explicitly.
func (o *DeriveOptions) params(cmd *cobra.Command, rt *session) (keyderive.Params, error) {
	p, err := rt.cfg.DeriveParams()
	if err != nil {
		return keyderive.Params{}, err
	}
	if cmd.Flags().Changed("method") {
		if p.Method, err = keyderive.ParseMethod(o.Method); err != nil {
			return keyderive.Params{}, err
		}
	}
	if cmd.Flags().Changed("top-n") {
		p.TopN = o.TopN
	}
	if cmd.Flags().Changed("key-length") {
		p.KeyLength = o.KeyLength
	}
	return p, nil
}

func keyEncoder(name string) (func([]byte) string, error) {
	switch name {
	case EncodingHex:
		return hex.EncodeToString, nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q: must be %s or %s", name, EncodingHex, EncodingBase64)
	}
}
